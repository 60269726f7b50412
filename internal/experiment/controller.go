package experiment

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/globaltime"
)

// ErrInvalidExperiment marks construction-time validation failures. An
// experiment that constructs successfully can never fail at routing time.
var ErrInvalidExperiment = errors.New("invalid experiment")

const (
	trafficSumTolerance = 1e-3
	bucketResolution    = 10_000
)

// Variant is one named clustering-policy configuration under test.
type Variant struct {
	Name   string
	Policy config.Policy
}

// Experiment deterministically routes articles to policy variants. The
// assignment is a pure function of (experiment id, article id), so it can be
// re-derived at any later time for audit without stored state.
type Experiment struct {
	id       string
	control  string
	variants map[string]config.Policy
	order    []string
	split    map[string]float64
	start    *time.Time
	end      *time.Time
	metrics  *Metrics
}

// NewExperiment validates the variant set and traffic split. The split must
// sum to 1.0 within tolerance, every split key must name a declared variant,
// and the control must be declared.
func NewExperiment(id, control string, variants []Variant, split map[string]float64) (*Experiment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing experiment id", ErrInvalidExperiment)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w %s: no variants", ErrInvalidExperiment, id)
	}

	byName := make(map[string]config.Policy, len(variants))
	order := make([]string, 0, len(variants))
	for _, v := range variants {
		if v.Name == "" {
			return nil, fmt.Errorf("%w %s: variant with empty name", ErrInvalidExperiment, id)
		}
		if _, dup := byName[v.Name]; dup {
			return nil, fmt.Errorf("%w %s: duplicate variant %q", ErrInvalidExperiment, id, v.Name)
		}
		if err := v.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("%w %s: variant %q: %v", ErrInvalidExperiment, id, v.Name, err)
		}
		byName[v.Name] = v.Policy
		order = append(order, v.Name)
	}

	if _, ok := byName[control]; !ok {
		return nil, fmt.Errorf("%w %s: control %q is not a declared variant", ErrInvalidExperiment, id, control)
	}
	if err := ValidateSplit(split, order); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidExperiment, id, err)
	}

	return &Experiment{
		id:       id,
		control:  control,
		variants: byName,
		order:    order,
		split:    split,
		metrics:  newMetrics(),
	}, nil
}

// ValidateSplit checks a traffic split against the declared variant names.
func ValidateSplit(split map[string]float64, declared []string) error {
	if len(split) == 0 {
		return fmt.Errorf("traffic split is empty")
	}

	names := make(map[string]struct{}, len(declared))
	for _, n := range declared {
		names[n] = struct{}{}
	}

	sum := 0.0
	for name, share := range split {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("traffic split names unknown variant %q", name)
		}
		if share < 0 {
			return fmt.Errorf("traffic split for %q is negative", name)
		}
		sum += share
	}
	if math.Abs(sum-1.0) > trafficSumTolerance {
		return fmt.Errorf("traffic split sums to %.4f, want 1.0", sum)
	}
	return nil
}

// SetWindow restricts the experiment to [start, end]. Outside the window
// every article routes to the control variant.
func (e *Experiment) SetWindow(start, end time.Time) {
	e.start = &start
	e.end = &end
}

// ID returns the experiment id.
func (e *Experiment) ID() string { return e.id }

// Control returns the control variant name.
func (e *Experiment) Control() string { return e.control }

// AssignVariant deterministically buckets an article. Calling it twice with
// the same arguments always returns the same variant.
func (e *Experiment) AssignVariant(articleID string, now time.Time) string {
	if e.start != nil && now.Before(*e.start) {
		return e.control
	}
	if e.end != nil && now.After(*e.end) {
		return e.control
	}

	bucket := float64(hashBucket(e.id, articleID)) / bucketResolution

	cumulative := 0.0
	for _, name := range e.order {
		cumulative += e.split[name]
		if bucket < cumulative {
			return name
		}
	}
	// Rounding slack at the top of the range falls to the last variant.
	return e.order[len(e.order)-1]
}

// PolicyFor implements the engine's PolicyResolver: the variant's policy and
// its name, for tagging outcomes and metrics.
func (e *Experiment) PolicyFor(articleID string, now time.Time) (config.Policy, string) {
	variant := e.AssignVariant(articleID, now)
	return e.variants[variant], variant
}

// RecordMetric appends an observation to the per-variant series for the
// article's variant. The variant is re-derived, never looked up from state.
func (e *Experiment) RecordMetric(articleID, name string, value any, metadata map[string]string) {
	variant := e.AssignVariant(articleID, globaltime.Now())
	e.metrics.record(variant, articleID, name, value, metadata)
}

// Aggregate summarizes all recorded metrics per variant.
func (e *Experiment) Aggregate() map[string]map[string]Summary {
	return e.metrics.aggregate()
}

// VariantNames returns the declared variant order.
func (e *Experiment) VariantNames() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func hashBucket(experimentID, articleID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(experimentID))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(articleID))
	return h.Sum64() % bucketResolution
}

// GradualRollout linearly interpolates steps intermediate traffic splits
// from current toward target; the final split equals target. Keys present in
// only one side are treated as zero on the other.
func GradualRollout(current, target map[string]float64, steps int) []map[string]float64 {
	if steps <= 0 {
		return nil
	}

	keys := make(map[string]struct{}, len(current)+len(target))
	for k := range current {
		keys[k] = struct{}{}
	}
	for k := range target {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := make([]map[string]float64, 0, steps)
	for step := 1; step <= steps; step++ {
		fraction := float64(step) / float64(steps)
		split := make(map[string]float64, len(ordered))
		for _, k := range ordered {
			split[k] = current[k] + (target[k]-current[k])*fraction
		}
		out = append(out, split)
	}
	return out
}
