package experiment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OneThum/newsreel/internal/config"
)

func TestLoad_BuildsExperimentsFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "experiments.yaml")
	raw := []byte(`
experiments:
  - id: thresholds-q1
    control: control
    start: 2026-03-01T00:00:00Z
    end: 2026-03-08T00:00:00Z
    variants:
      - name: control
        traffic: 0.5
      - name: strict
        traffic: 0.5
        thresholds:
          fresh_hours: 12
          recent_hours: 72
          fresh: 0.70
          recent: 0.62
          stale: 0.55
          guardrail_k: 1.5
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write experiments file: %v", err)
	}

	experiments, err := Load(path, config.DefaultPolicy())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(experiments) != 1 {
		t.Fatalf("expected 1 experiment, got %d", len(experiments))
	}

	exp := experiments[0]
	if exp.ID() != "thresholds-q1" || exp.Control() != "control" {
		t.Fatalf("unexpected experiment identity: %s/%s", exp.ID(), exp.Control())
	}

	inWindow := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	policy, variant := exp.PolicyFor("article-1", inWindow)
	switch variant {
	case "strict":
		if policy.Thresholds.Fresh != 0.70 {
			t.Fatalf("strict variant must carry its override, got %v", policy.Thresholds.Fresh)
		}
	case "control":
		if policy.Thresholds.Fresh != config.DefaultPolicy().Thresholds.Fresh {
			t.Fatalf("control variant must carry the base policy, got %v", policy.Thresholds.Fresh)
		}
	default:
		t.Fatalf("unexpected variant %q", variant)
	}

	outOfWindow := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if got := exp.AssignVariant("article-1", outOfWindow); got != "control" {
		t.Fatalf("outside the window everything routes to control, got %q", got)
	}
}

func TestLoad_RejectsInvalidVariantPolicy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "experiments.yaml")
	raw := []byte(`
experiments:
  - id: broken
    control: control
    variants:
      - name: control
        traffic: 0.5
      - name: heavy
        traffic: 0.5
        weights:
          semantic: 0.9
          entity: 0.9
          title: 0.1
          temporal: 0.1
          geo: 0.0
          event: 0.0
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write experiments file: %v", err)
	}

	if _, err := Load(path, config.DefaultPolicy()); err == nil {
		t.Fatalf("expected invalid variant weights to fail the load")
	}
}
