package main

import (
	"os"

	"github.com/OneThum/newsreel/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
