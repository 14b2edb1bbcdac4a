package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite and postgres.
var ErrUnsupportedDriver = errors.New("unsupported store driver")

const defaultEventLimit = 100

var migrations = []struct {
	version    int
	statements []string
}{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS metric_samples (
    batch_id    TEXT NOT NULL,
    component   TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    unit        TEXT NOT NULL DEFAULT '',
    ts_ms       BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_samples_metric_ts ON metric_samples(component, metric_name, ts_ms)`,
			`CREATE TABLE IF NOT EXISTS anomaly_events (
    id             TEXT PRIMARY KEY,
    ts_ms          BIGINT NOT NULL,
    component      TEXT NOT NULL,
    metric_name    TEXT NOT NULL,
    value          DOUBLE PRECISION NOT NULL,
    severity       TEXT NOT NULL,
    reason         TEXT NOT NULL DEFAULT '',
    batch_id       TEXT NOT NULL DEFAULT '',
    resolved_at_ms BIGINT
)`,
			`CREATE INDEX IF NOT EXISTS idx_events_ts ON anomaly_events(ts_ms)`,
			`CREATE INDEX IF NOT EXISTS idx_events_open ON anomaly_events(severity, resolved_at_ms)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS patterns (
    id              TEXT PRIMARY KEY,
    window_start_ms BIGINT NOT NULL,
    window_width_ms BIGINT NOT NULL,
    pattern_type    TEXT NOT NULL,
    components      TEXT NOT NULL,
    anomaly_count   INTEGER NOT NULL,
    max_severity    TEXT NOT NULL,
    payload         TEXT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_patterns_window ON patterns(window_start_ms)`,
		},
	},
}

// SQLStore persists samples, anomaly events and patterns in SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to the named driver and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var db *sqlx.DB
	var err error
	switch driver {
	case "sqlite":
		db, err = sqlx.ConnectContext(ctx, "sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("connect sqlite: %w", err)
		}
		// A single connection keeps :memory: databases coherent and avoids writer contention.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	case "postgres":
		db, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	store := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies every migration not yet recorded in schema_versions.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
    version       INTEGER PRIMARY KEY,
    applied_at_ms BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_versions(version, applied_at_ms) VALUES(?, ?)`), m.version, s.now().UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_versions`); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string { return s.driver }

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the underlying pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// WriteBatch stores one interval's samples and events in a single transaction.
func (s *SQLStore) WriteBatch(ctx context.Context, samples []models.MetricSample, events []models.AnomalyEvent) error {
	if len(samples) == 0 && len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	if len(samples) > 0 {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO metric_samples (batch_id, component, metric_name, value, unit, ts_ms) VALUES (?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare samples: %w", err)
		}
		defer stmt.Close()
		for _, sample := range samples {
			if _, err := stmt.ExecContext(ctx, sample.BatchID, string(sample.Component), sample.Metric, sample.Value, sample.Unit, utils.ToUnixMilli(sample.Timestamp)); err != nil {
				return fmt.Errorf("insert sample %s/%s: %w", sample.Component, sample.Metric, err)
			}
		}
	}

	if len(events) > 0 {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO anomaly_events (id, ts_ms, component, metric_name, value, severity, reason, batch_id, resolved_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare events: %w", err)
		}
		defer stmt.Close()
		for _, ev := range events {
			var resolved sql.NullInt64
			if ev.ResolvedAt != nil {
				resolved = sql.NullInt64{Int64: utils.ToUnixMilli(*ev.ResolvedAt), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, ev.ID, utils.ToUnixMilli(ev.Timestamp), string(ev.Component), ev.Metric, ev.Value, string(ev.Severity), ev.Reason, ev.BatchID, resolved); err != nil {
				return fmt.Errorf("insert event %s: %w", ev.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

type eventRow struct {
	ID           string        `db:"id"`
	TsMs         int64         `db:"ts_ms"`
	Component    string        `db:"component"`
	Metric       string        `db:"metric_name"`
	Value        float64       `db:"value"`
	Severity     string        `db:"severity"`
	Reason       string        `db:"reason"`
	BatchID      string        `db:"batch_id"`
	ResolvedAtMs sql.NullInt64 `db:"resolved_at_ms"`
}

func (r eventRow) event() models.AnomalyEvent {
	ev := models.AnomalyEvent{
		ID:        r.ID,
		Timestamp: utils.FromUnixMilli(r.TsMs),
		Component: models.Component(r.Component),
		Metric:    r.Metric,
		Value:     r.Value,
		Severity:  models.Severity(r.Severity),
		Reason:    r.Reason,
		BatchID:   r.BatchID,
	}
	if r.ResolvedAtMs.Valid {
		resolved := utils.FromUnixMilli(r.ResolvedAtMs.Int64)
		ev.ResolvedAt = &resolved
	}
	return ev
}

// Events returns anomaly events matching the query, newest first.
func (s *SQLStore) Events(ctx context.Context, q models.EventQuery) ([]models.AnomalyEvent, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if !q.Start.IsZero() {
		clauses = append(clauses, "ts_ms >= ?")
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		clauses = append(clauses, "ts_ms <= ?")
		args = append(args, q.End.UnixMilli())
	}
	if q.Component != "" {
		clauses = append(clauses, "component = ?")
		args = append(args, string(q.Component))
	}
	if q.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.UnresolvedOnly {
		clauses = append(clauses, "resolved_at_ms IS NULL")
	}

	query := `SELECT id, ts_ms, component, metric_name, value, severity, reason, batch_id, resolved_at_ms FROM anomaly_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	query += " ORDER BY ts_ms DESC, id LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events := make([]models.AnomalyEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}

type bucketRow struct {
	MinuteMs int64   `db:"minute_ms"`
	Avg      float64 `db:"avg_value"`
	Min      float64 `db:"min_value"`
	Max      float64 `db:"max_value"`
	Count    int64   `db:"sample_count"`
}

// MinuteAggregates groups samples into minute buckets, most recent first.
func (s *SQLStore) MinuteAggregates(ctx context.Context, component models.Component, metric string, start, end time.Time, limit int) ([]models.AggregateBucket, error) {
	if limit <= 0 {
		limit = 60
	}
	query := s.db.Rebind(`SELECT (ts_ms / 60000) * 60000 AS minute_ms,
       AVG(value) AS avg_value,
       MIN(value) AS min_value,
       MAX(value) AS max_value,
       COUNT(*) AS sample_count
FROM metric_samples
WHERE component = ? AND metric_name = ? AND ts_ms >= ? AND ts_ms <= ?
GROUP BY 1
ORDER BY 1 DESC
LIMIT ?`)

	var rows []bucketRow
	if err := s.db.SelectContext(ctx, &rows, query, string(component), metric, start.UnixMilli(), end.UnixMilli(), limit); err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	buckets := make([]models.AggregateBucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, models.AggregateBucket{
			Minute: utils.FromUnixMilli(row.MinuteMs),
			Avg:    row.Avg,
			Min:    row.Min,
			Max:    row.Max,
			Count:  row.Count,
		})
	}
	return buckets, nil
}

// ResolveExpired marks open events older than their severity TTL as resolved.
func (s *SQLStore) ResolveExpired(ctx context.Context, now time.Time, warningTTL, criticalTTL time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE anomaly_events SET resolved_at_ms = ?
WHERE resolved_at_ms IS NULL
  AND ((severity = ? AND ts_ms < ?) OR (severity = ? AND ts_ms < ?))`),
		now.UnixMilli(),
		string(models.SeverityWarning), now.Add(-warningTTL).UnixMilli(),
		string(models.SeverityCritical), now.Add(-criticalTTL).UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("resolve events: %w", err)
	}
	return res.RowsAffected()
}

// StorePatterns upserts detected patterns keyed by ID. A stored pattern is
// only replaced by a detection covering at least as many anomalies.
func (s *SQLStore) StorePatterns(ctx context.Context, patterns []models.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patterns: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO patterns (id, window_start_ms, window_width_ms, pattern_type, components, anomaly_count, max_severity, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    pattern_type = excluded.pattern_type,
    components = excluded.components,
    anomaly_count = excluded.anomaly_count,
    max_severity = excluded.max_severity,
    payload = excluded.payload
WHERE excluded.anomaly_count >= patterns.anomaly_count`))
	if err != nil {
		return fmt.Errorf("prepare patterns: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pattern %s: %w", p.ID, err)
		}
		components := make([]string, 0, len(p.Components))
		for _, c := range p.Components {
			components = append(components, string(c))
		}
		if _, err := stmt.ExecContext(ctx, p.ID, utils.ToUnixMilli(p.WindowStart), p.WindowWidth.Milliseconds(), p.Type,
			strings.Join(components, ","), p.AnomalyCount, string(p.MaxSeverity), string(payload)); err != nil {
			return fmt.Errorf("upsert pattern %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patterns: %w", err)
	}
	return nil
}

// RecentPatterns returns patterns whose window started at or after since, newest first.
func (s *SQLStore) RecentPatterns(ctx context.Context, since time.Time, limit int) ([]models.Pattern, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	var payloads []string
	query := s.db.Rebind(`SELECT payload FROM patterns WHERE window_start_ms >= ? ORDER BY window_start_ms DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &payloads, query, utils.ToUnixMilli(since), limit); err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	patterns := make([]models.Pattern, 0, len(payloads))
	for _, payload := range payloads {
		var p models.Pattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Summary aggregates events since the given time by component and severity.
func (s *SQLStore) Summary(ctx context.Context, since time.Time, top int) (models.AnomalySummary, error) {
	if top <= 0 {
		top = 10
	}
	summary := models.AnomalySummary{Since: since.UTC()}

	bySeverity := s.db.Rebind(`SELECT component, severity, COUNT(*) AS event_count, COUNT(DISTINCT metric_name) AS unique_metrics
FROM anomaly_events
WHERE ts_ms >= ?
GROUP BY component, severity
ORDER BY component, severity`)
	if err := s.db.SelectContext(ctx, &summary.BySeverity, bySeverity, since.UnixMilli()); err != nil {
		return summary, fmt.Errorf("summarise severities: %w", err)
	}
	for _, row := range summary.BySeverity {
		summary.Total += row.Count
	}

	topMetrics := s.db.Rebind(`SELECT component, metric_name, COUNT(*) AS event_count
FROM anomaly_events
WHERE ts_ms >= ?
GROUP BY component, metric_name
ORDER BY event_count DESC, component, metric_name
LIMIT ?`)
	if err := s.db.SelectContext(ctx, &summary.TopMetrics, topMetrics, since.UnixMilli(), top); err != nil {
		return summary, fmt.Errorf("summarise metrics: %w", err)
	}
	return summary, nil
}
