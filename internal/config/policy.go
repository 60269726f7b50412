package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPolicy marks clustering-policy validation failures. Policies are
// validated once at load time so a bad profile can never surface mid-ingest.
var ErrInvalidPolicy = errors.New("invalid clustering policy")

const weightSumTolerance = 1e-6

// ScoringWeights are the per-factor weights of the similarity score. They
// must sum to 1.0.
type ScoringWeights struct {
	Semantic float64 `yaml:"semantic"`
	Entity   float64 `yaml:"entity"`
	Title    float64 `yaml:"title"`
	Temporal float64 `yaml:"temporal"`
	Geo      float64 `yaml:"geo"`
	Event    float64 `yaml:"event"`
}

func (w ScoringWeights) Sum() float64 {
	return w.Semantic + w.Entity + w.Title + w.Temporal + w.Geo + w.Event
}

// ThresholdTiers are the age-adaptive assignment thresholds. Fresher articles
// need stronger evidence to merge because early reporting is noisier.
type ThresholdTiers struct {
	FreshHours  float64 `yaml:"fresh_hours"`
	RecentHours float64 `yaml:"recent_hours"`
	Fresh       float64 `yaml:"fresh"`
	Recent      float64 `yaml:"recent"`
	Stale       float64 `yaml:"stale"`
	GuardrailK  float64 `yaml:"guardrail_k"`
}

// CandidatePolicy bounds hybrid candidate retrieval.
type CandidatePolicy struct {
	MaxCandidates      int     `yaml:"max_candidates"`
	WindowHours        float64 `yaml:"window_hours"`
	FutureSlackMinutes float64 `yaml:"future_slack_minutes"`
	LexicalMaxAgeHours float64 `yaml:"lexical_max_age_hours"`
}

// MaintenancePolicy holds merge/split/decay thresholds for the periodic job.
type MaintenancePolicy struct {
	MaxClustersPerRun     int     `yaml:"max_clusters_per_run"`
	MergeTemporalOverlap  float64 `yaml:"merge_temporal_overlap"`
	MergeEntityJaccard    float64 `yaml:"merge_entity_jaccard"`
	MergeGeoSimilarity    float64 `yaml:"merge_geo_similarity"`
	MergeEventSimilarity  float64 `yaml:"merge_event_similarity"`
	GeoGateEnabled        bool    `yaml:"geo_gate_enabled"`
	EventGateEnabled      bool    `yaml:"event_gate_enabled"`
	ViableMaxIdleDays     int     `yaml:"viable_max_idle_days"`
	SplitMinArticles      int     `yaml:"split_min_articles"`
	SplitMinSpanDays      float64 `yaml:"split_min_span_days"`
	SplitEmbeddingSpread  float64 `yaml:"split_embedding_spread"`
	SplitGeoSpreadKm      float64 `yaml:"split_geo_spread_km"`
	DecaySingleSourceDays int     `yaml:"decay_single_source_days"`
	DecayLowSourceDays    int     `yaml:"decay_low_source_days"`
	DecayAnyDays          int     `yaml:"decay_any_days"`
}

// Policy is one versioned clustering-policy profile. Experiment variants carry
// their own Policy so every knob is overridable without a code change.
type Policy struct {
	Version          string            `yaml:"version"`
	Weights          ScoringWeights    `yaml:"weights"`
	Thresholds       ThresholdTiers    `yaml:"thresholds"`
	Candidates       CandidatePolicy   `yaml:"candidates"`
	Maintenance      MaintenancePolicy `yaml:"maintenance"`
	BreakingWindowH  float64           `yaml:"breaking_window_hours"`
	BreakingSigmaH   float64           `yaml:"breaking_sigma_hours"`
	DefaultSigmaH    float64           `yaml:"default_sigma_hours"`
	GeoMaxDistanceKm float64           `yaml:"geo_max_distance_km"`
}

// DefaultPolicy returns the baseline profile used when no YAML override is
// supplied and as the control variant of experiments.
func DefaultPolicy() Policy {
	return Policy{
		Version: "baseline-v1",
		Weights: ScoringWeights{
			Semantic: 0.45,
			Entity:   0.15,
			Title:    0.10,
			Temporal: 0.10,
			Geo:      0.10,
			Event:    0.10,
		},
		Thresholds: ThresholdTiers{
			FreshHours:  12,
			RecentHours: 72,
			Fresh:       0.65,
			Recent:      0.60,
			Stale:       0.55,
			GuardrailK:  1.5,
		},
		Candidates: CandidatePolicy{
			MaxCandidates:      20,
			WindowHours:        72,
			FutureSlackMinutes: 30,
			LexicalMaxAgeHours: 1,
		},
		Maintenance: MaintenancePolicy{
			MaxClustersPerRun:     500,
			MergeTemporalOverlap:  0.5,
			MergeEntityJaccard:    0.6,
			MergeGeoSimilarity:    0.7,
			MergeEventSimilarity:  0.8,
			GeoGateEnabled:        true,
			EventGateEnabled:      true,
			ViableMaxIdleDays:     7,
			SplitMinArticles:      10,
			SplitMinSpanDays:      3,
			SplitEmbeddingSpread:  0.35,
			SplitGeoSpreadKm:      800,
			DecaySingleSourceDays: 14,
			DecayLowSourceDays:    21,
			DecayAnyDays:          30,
		},
		BreakingWindowH:  6,
		BreakingSigmaH:   24,
		DefaultSigmaH:    72,
		GeoMaxDistanceKm: 500,
	}
}

// LoadPolicy reads a YAML profile from disk, filling unset fields from the
// defaults, and validates the result.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if sum := p.Weights.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: scoring weights sum to %.6f, want 1.0", ErrInvalidPolicy, sum)
	}
	if p.Thresholds.FreshHours <= 0 || p.Thresholds.RecentHours <= p.Thresholds.FreshHours {
		return fmt.Errorf("%w: threshold tiers must satisfy 0 < fresh_hours < recent_hours", ErrInvalidPolicy)
	}
	for _, t := range []float64{p.Thresholds.Fresh, p.Thresholds.Recent, p.Thresholds.Stale} {
		if t <= 0 || t > 1 {
			return fmt.Errorf("%w: assignment thresholds must be in (0,1]", ErrInvalidPolicy)
		}
	}
	if p.Thresholds.GuardrailK < 0 {
		return fmt.Errorf("%w: guardrail_k must be >= 0", ErrInvalidPolicy)
	}
	if p.Candidates.MaxCandidates < 1 {
		return fmt.Errorf("%w: max_candidates must be >= 1", ErrInvalidPolicy)
	}
	if p.Candidates.WindowHours <= 0 {
		return fmt.Errorf("%w: candidate window_hours must be > 0", ErrInvalidPolicy)
	}
	if p.BreakingSigmaH <= 0 || p.DefaultSigmaH <= 0 {
		return fmt.Errorf("%w: temporal sigmas must be > 0", ErrInvalidPolicy)
	}
	if p.GeoMaxDistanceKm <= 0 {
		return fmt.Errorf("%w: geo_max_distance_km must be > 0", ErrInvalidPolicy)
	}
	if p.Maintenance.MaxClustersPerRun < 1 {
		return fmt.Errorf("%w: max_clusters_per_run must be >= 1", ErrInvalidPolicy)
	}
	return nil
}
