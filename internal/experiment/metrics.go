package experiment

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/OneThum/newsreel/internal/globaltime"
)

// Observation is one recorded metric value, tagged with the article that
// produced it so a series can be traced back to its inputs.
type Observation struct {
	ArticleID string
	Value     any
	Metadata  map[string]string
	At        time.Time
}

// Summary aggregates one metric series. Numeric series carry mean/min/max;
// non-numeric series carry only the count and distinct-value cardinality.
type Summary struct {
	Count       int     `json:"count"`
	Numeric     bool    `json:"numeric"`
	Mean        float64 `json:"mean,omitempty"`
	Min         float64 `json:"min,omitempty"`
	Max         float64 `json:"max,omitempty"`
	Cardinality int     `json:"cardinality,omitempty"`
}

// Metrics stores per-variant, per-name observation series.
type Metrics struct {
	mu     sync.Mutex
	series map[string]map[string][]Observation
}

func newMetrics() *Metrics {
	return &Metrics{series: make(map[string]map[string][]Observation)}
}

func (m *Metrics) record(variant, articleID, name string, value any, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, ok := m.series[variant]
	if !ok {
		byName = make(map[string][]Observation)
		m.series[variant] = byName
	}
	byName[name] = append(byName[name], Observation{
		ArticleID: articleID,
		Value:     value,
		Metadata:  metadata,
		At:        globaltime.Now(),
	})
}

func (m *Metrics) aggregate() map[string]map[string]Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]map[string]Summary, len(m.series))
	for variant, byName := range m.series {
		out[variant] = make(map[string]Summary, len(byName))
		for name, obs := range byName {
			out[variant][name] = summarize(obs)
		}
	}
	return out
}

func summarize(obs []Observation) Summary {
	s := Summary{Count: len(obs)}

	numeric := true
	values := make([]float64, 0, len(obs))
	for _, o := range obs {
		v, ok := asFloat(o.Value)
		if !ok {
			numeric = false
			break
		}
		values = append(values, v)
	}

	if numeric && len(values) > 0 {
		s.Numeric = true
		s.Min = math.Inf(1)
		s.Max = math.Inf(-1)
		sum := 0.0
		for _, v := range values {
			sum += v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}
		s.Mean = sum / float64(len(values))
		return s
	}

	distinct := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		distinct[stringValue(o.Value)] = struct{}{}
	}
	s.Cardinality = len(distinct)
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
