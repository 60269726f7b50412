package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/OneThum/newsreel/internal/config"
	"github.com/OneThum/newsreel/internal/model"
)

// PostgresStore implements ClusterStore on Postgres. Clusters are stored as a
// JSONB document plus the columns the engine filters on; the version column
// carries the optimistic token and every Replace is a conditional write.
type PostgresStore struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.DBMinConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	s := &PostgresStore{gdb: gdb, sqlDB: sqlDB}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func resolveGormLogLevel(level, environment string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return gormlogger.Info
	case "warn", "warning":
		return gormlogger.Warn
	case "error", "fatal", "panic":
		return gormlogger.Error
	}
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return gormlogger.Warn
	}
	return gormlogger.Error
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE SCHEMA IF NOT EXISTS newsreel;
CREATE TABLE IF NOT EXISTS newsreel.story_clusters (
	cluster_id   TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	state        TEXT NOT NULL,
	status       TEXT NOT NULL,
	first_seen   TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	doc          JSONB NOT NULL,
	version      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS story_clusters_category_state_idx
	ON newsreel.story_clusters (category, state, last_updated DESC);
`
	if err := s.gdb.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id, partition string) (*model.StoryCluster, error) {
	const q = `
SELECT doc, version
FROM newsreel.story_clusters
WHERE cluster_id = ?
`
	row := s.gdb.WithContext(ctx).Raw(q, id).Row()

	var doc []byte
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get cluster %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get cluster %s: %v", ErrUnavailable, id, err)
	}

	cluster, err := decodeCluster(doc, version)
	if err != nil {
		return nil, err
	}
	if partition != "" && cluster.Category != partition {
		return nil, fmt.Errorf("get cluster %s in partition %s: %w", id, partition, ErrNotFound)
	}
	return cluster, nil
}

func (s *PostgresStore) Create(ctx context.Context, cluster *model.StoryCluster) error {
	if cluster == nil || cluster.ID == "" {
		return fmt.Errorf("create cluster: missing id")
	}
	cluster.Version = 1

	doc, err := json.Marshal(cluster)
	if err != nil {
		return fmt.Errorf("marshal cluster %s: %w", cluster.ID, err)
	}

	const q = `
INSERT INTO newsreel.story_clusters (
	cluster_id, category, state, status, first_seen, last_updated, doc, version
)
VALUES (?, ?, ?, ?, ?, ?, ?::jsonb, ?)
`
	res := s.gdb.WithContext(ctx).Exec(
		q,
		cluster.ID,
		cluster.Category,
		string(cluster.State),
		string(cluster.Status),
		cluster.FirstSeen,
		cluster.LastUpdated,
		string(doc),
		cluster.Version,
	)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create cluster %s: %w", cluster.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("%w: insert cluster %s: %v", ErrUnavailable, cluster.ID, res.Error)
	}
	return nil
}

func (s *PostgresStore) Replace(ctx context.Context, id string, cluster *model.StoryCluster, expectedVersion int64) (*model.StoryCluster, error) {
	updated := cluster.Clone()
	updated.ID = id
	updated.Version = expectedVersion + 1

	doc, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal cluster %s: %w", id, err)
	}

	const q = `
UPDATE newsreel.story_clusters
SET category = ?,
	state = ?,
	status = ?,
	first_seen = ?,
	last_updated = ?,
	doc = ?::jsonb,
	version = ?
WHERE cluster_id = ? AND version = ?
`
	res := s.gdb.WithContext(ctx).Exec(
		q,
		updated.Category,
		string(updated.State),
		string(updated.Status),
		updated.FirstSeen,
		updated.LastUpdated,
		string(doc),
		updated.Version,
		id,
		expectedVersion,
	)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: replace cluster %s: %v", ErrUnavailable, id, res.Error)
	}
	if res.RowsAffected == 1 {
		return updated, nil
	}

	// Conditional write missed: distinguish a stale version from a vanished row.
	current, err := s.Get(ctx, id, "")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("replace cluster %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return nil, &VersionConflictError{ID: id, Expected: expectedVersion, Actual: current.Version}
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]*model.StoryCluster, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT doc, version
FROM newsreel.story_clusters
WHERE 1=1
`)
	args := make([]any, 0, 4)
	if filter.Category != "" {
		sb.WriteString(" AND category = ?")
		args = append(args, filter.Category)
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, st := range filter.States {
			states = append(states, string(st))
		}
		sb.WriteString(" AND state IN ?")
		args = append(args, states)
	}
	if !filter.UpdatedAfter.IsZero() {
		sb.WriteString(" AND last_updated >= ?")
		args = append(args, filter.UpdatedAfter)
	}
	sb.WriteString(" ORDER BY last_updated DESC, cluster_id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.gdb.WithContext(ctx).Raw(sb.String(), args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: query clusters: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []*model.StoryCluster
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan cluster row: %w", err)
		}
		cluster, err := decodeCluster(doc, version)
		if err != nil {
			return nil, err
		}
		results = append(results, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate clusters: %v", ErrUnavailable, err)
	}
	return results, nil
}

func decodeCluster(doc []byte, version int64) (*model.StoryCluster, error) {
	var cluster model.StoryCluster
	if err := json.Unmarshal(doc, &cluster); err != nil {
		return nil, fmt.Errorf("decode cluster document: %w", err)
	}
	cluster.Version = version
	return &cluster, nil
}
