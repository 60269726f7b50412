package experiment

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OneThum/newsreel/internal/config"
)

// VariantSpec is one variant entry in an experiments file. Omitted override
// sections inherit from the base policy, so a control variant is just a name
// and a traffic share.
type VariantSpec struct {
	Name       string                  `yaml:"name"`
	Traffic    float64                 `yaml:"traffic"`
	Weights    *config.ScoringWeights  `yaml:"weights"`
	Thresholds *config.ThresholdTiers  `yaml:"thresholds"`
	Candidates *config.CandidatePolicy `yaml:"candidates"`
}

// ExperimentSpec is one experiment entry in an experiments file.
type ExperimentSpec struct {
	ID       string        `yaml:"id"`
	Control  string        `yaml:"control"`
	Start    *time.Time    `yaml:"start"`
	End      *time.Time    `yaml:"end"`
	Variants []VariantSpec `yaml:"variants"`
}

type experimentsFile struct {
	Experiments []ExperimentSpec `yaml:"experiments"`
}

// Load reads experiment definitions from a YAML file. Variant policies start
// from base and apply whichever override sections the entry provides; every
// resulting policy is validated before the experiment is accepted.
func Load(path string, base config.Policy) ([]*Experiment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiments file: %w", err)
	}

	var file experimentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse experiments file %s: %w", path, err)
	}

	out := make([]*Experiment, 0, len(file.Experiments))
	for _, spec := range file.Experiments {
		exp, err := Build(spec, base)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// Build materializes one experiment spec against a base policy.
func Build(spec ExperimentSpec, base config.Policy) (*Experiment, error) {
	variants := make([]Variant, 0, len(spec.Variants))
	split := make(map[string]float64, len(spec.Variants))
	for _, vs := range spec.Variants {
		policy := base
		if vs.Weights != nil {
			policy.Weights = *vs.Weights
		}
		if vs.Thresholds != nil {
			policy.Thresholds = *vs.Thresholds
		}
		if vs.Candidates != nil {
			policy.Candidates = *vs.Candidates
		}
		variants = append(variants, Variant{Name: vs.Name, Policy: policy})
		split[vs.Name] = vs.Traffic
	}

	exp, err := NewExperiment(spec.ID, spec.Control, variants, split)
	if err != nil {
		return nil, err
	}
	if spec.Start != nil && spec.End != nil {
		exp.SetWindow(*spec.Start, *spec.End)
	}
	return exp, nil
}
