package model

import "time"

// Entity is one named entity extracted from an article.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// EventSignature is the compact structured summary of a story's action,
// event types and key entities produced by the feature extractors.
type EventSignature struct {
	Actions    []string `json:"actions"`
	EventTypes []string `json:"event_types"`
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
	Hash       string   `json:"hash"`
}

// Location is one resolved geographic mention.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// GeoFeatures carries the geographic context of an article or cluster.
type GeoFeatures struct {
	Locations       []Location `json:"locations"`
	PrimaryLocation *Location  `json:"primary_location,omitempty"`
	Hierarchy       []string   `json:"hierarchy,omitempty"`
	RegionalContext string     `json:"regional_context,omitempty"`
	Scope           string     `json:"scope,omitempty"`
}

// Article is a feature-complete news article entering the clustering engine.
// Embedding, Signature and Geo come from external feature extractors and may
// be absent; the engine degrades to neutral scores where they are nil.
type Article struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	PublishedAt time.Time       `json:"published_at"`
	FetchedAt   time.Time       `json:"fetched_at"`
	Entities    []Entity        `json:"entities,omitempty"`
	Embedding   []float32       `json:"embedding,omitempty"`
	Signature   *EventSignature `json:"event_signature,omitempty"`
	Geo         *GeoFeatures    `json:"geographic_features,omitempty"`
	Processed   bool            `json:"processed"`
}

// EntityTexts returns the entity surface forms, preserving order.
func (a *Article) EntityTexts() []string {
	if len(a.Entities) == 0 {
		return nil
	}
	texts := make([]string, 0, len(a.Entities))
	for _, e := range a.Entities {
		texts = append(texts, e.Text)
	}
	return texts
}
