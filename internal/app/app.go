package app

import (
	"fmt"
	"os"
)

// Run dispatches the newsreel subcommands and returns the process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	command := args[0]
	rest := args[1:]

	switch command {
	case "daemon":
		return runDaemon(rest)
	case "ingest":
		return runIngest(rest)
	case "maintain":
		return runMaintain(rest)
	case "validate":
		return runValidate(rest)
	case "health":
		return runHealth(rest)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: newsreel <command> [flags]

Commands:
  daemon     Run the clustering service: HTTP ingest plus periodic maintenance
  ingest     Cluster article payload files from a directory
  maintain   Run one maintenance pass (merge, split, decay) and exit
  validate   Validate article payload files against the ingest schema
  health     Check database connectivity
  help       Show this help

Run "newsreel <command> -h" for command flags.
`)
}
