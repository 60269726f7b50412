package articleschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/OneThum/newsreel/internal/model"
)

//go:embed article.schema.json
var articleSchemaJSON string

type articlePayload struct {
	PayloadVersion string                `json:"payload_version"`
	ArticleID      string                `json:"article_id"`
	Source         string                `json:"source"`
	Title          string                `json:"title"`
	Category       string                `json:"category"`
	Description    string                `json:"description"`
	PublishedAt    string                `json:"published_at"`
	FetchedAt      *string               `json:"fetched_at"`
	Embedding      []float32             `json:"embedding"`
	Entities       []model.Entity        `json:"entities"`
	Signature      *model.EventSignature `json:"event_signature"`
	Geo            *model.GeoFeatures    `json:"geo"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateArticlePayload checks an ingest payload against the article schema
// and converts it to the engine's article type. Structural validation runs
// first; semantic checks the schema cannot express run after.
func ValidateArticlePayload(payload json.RawMessage) (*model.Article, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var raw articlePayload
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return toArticle(&raw)
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article.schema.json", strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func toArticle(raw *articlePayload) (*model.Article, error) {
	if strings.TrimSpace(raw.PayloadVersion) != "v1" {
		return nil, fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(raw.ArticleID) == "" {
		return nil, fmt.Errorf("article_id must not be empty")
	}
	if strings.TrimSpace(raw.Source) == "" {
		return nil, fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("title must not be empty")
	}

	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.PublishedAt))
	if err != nil {
		return nil, fmt.Errorf("published_at must be RFC3339: %w", err)
	}

	article := &model.Article{
		ID:          raw.ArticleID,
		Source:      raw.Source,
		Title:       raw.Title,
		Category:    raw.Category,
		Description: raw.Description,
		PublishedAt: publishedAt.UTC(),
		Entities:    raw.Entities,
		Embedding:   raw.Embedding,
		Signature:   raw.Signature,
		Geo:         raw.Geo,
	}

	if raw.FetchedAt != nil {
		fetchedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw.FetchedAt))
		if err != nil {
			return nil, fmt.Errorf("fetched_at must be RFC3339: %w", err)
		}
		article.FetchedAt = fetchedAt.UTC()
	}

	if article.Signature != nil && (article.Signature.Confidence < 0 || article.Signature.Confidence > 1) {
		return nil, fmt.Errorf("event_signature.confidence must be within [0, 1]")
	}

	return article, nil
}
