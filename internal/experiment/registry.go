package experiment

import (
	"time"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/globaltime"
)

// Registry routes policy resolution across loaded experiments. Only one
// experiment drives an article's policy: the first one whose window covers
// the resolution time. Articles not covered by any experiment get the base
// policy and an empty variant tag.
type Registry struct {
	base        config.Policy
	experiments []*Experiment
}

func NewRegistry(base config.Policy, experiments []*Experiment) *Registry {
	return &Registry{base: base, experiments: experiments}
}

// PolicyFor implements the engine's PolicyResolver over the registry.
// Variant tags are qualified as "experiment/variant" so outcomes from
// different experiments stay distinguishable.
func (r *Registry) PolicyFor(articleID string, now time.Time) (config.Policy, string) {
	for _, exp := range r.experiments {
		if !exp.coversWindow(now) {
			continue
		}
		policy, variant := exp.PolicyFor(articleID, now)
		return policy, exp.id + "/" + variant
	}
	return r.base, ""
}

// RecordMetric forwards an ingest observation to the experiment currently
// driving policy resolution, mirroring the PolicyFor routing so the report
// and the policy always attribute an article to the same experiment.
// Observations outside every experiment window are dropped.
func (r *Registry) RecordMetric(articleID, name string, value any, metadata map[string]string) {
	now := globaltime.Now()
	for _, exp := range r.experiments {
		if !exp.coversWindow(now) {
			continue
		}
		exp.RecordMetric(articleID, name, value, metadata)
		return
	}
}

// Experiments returns the registered experiments in load order.
func (r *Registry) Experiments() []*Experiment {
	return r.experiments
}

func (e *Experiment) coversWindow(now time.Time) bool {
	if e.start != nil && now.Before(*e.start) {
		return false
	}
	if e.end != nil && now.After(*e.end) {
		return false
	}
	return true
}
