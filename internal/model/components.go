package model

// Factor names used in ScoreComponents. Kept as constants so decision audit
// rows and experiment metrics agree on spelling.
const (
	FactorSemantic = "semantic"
	FactorEntity   = "entity"
	FactorTitle    = "title"
	FactorTemporal = "temporal"
	FactorGeo      = "geo"
	FactorEvent    = "event"
)

// Component is one factor's contribution to a similarity score. Missing marks
// factors that fell back to a neutral value because a feature was absent.
type Component struct {
	Weight  float64 `json:"weight"`
	Value   float64 `json:"value"`
	Missing bool    `json:"missing,omitempty"`
}

// ScoreComponents is the per-factor breakdown returned alongside every final
// score, for auditability and for the assignment guardrail.
type ScoreComponents map[string]Component

// Total recomputes the weighted sum. It must equal the final score the scorer
// returned for the same pair.
func (sc ScoreComponents) Total() float64 {
	var total float64
	for _, c := range sc {
		total += c.Weight * c.Value
	}
	return total
}
