package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mail-followup/internal/model"
)

// SQLiteStore implements the Journal interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// WAL lets the CLI read the journal while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// RecordDispatch appends a dispatch event.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, e model.Event) error {
	e.Kind = model.EventDispatch
	if e.Strategy == "" {
		e.Strategy = model.DetectedByNone
	}
	return s.insert(ctx, e)
}

// RecordReply appends a reply-detected event.
func (s *SQLiteStore) RecordReply(ctx context.Context, e model.Event) error {
	e.Kind = model.EventReply
	if e.Strategy == "" {
		return fmt.Errorf("reply event for %s has no strategy", e.TrackingKey)
	}
	return s.insert(ctx, e)
}

func (s *SQLiteStore) insert(ctx context.Context, e model.Event) error {
	if strings.TrimSpace(e.TrackingKey) == "" {
		return fmt.Errorf("event tracking key must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	e.OccurredAt = e.OccurredAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (
			id, kind, tracking_key, thread_id, recipient,
			code, subject, reference, strategy, dry_run, occurred_at
		) VALUES (
			:id, :kind, :tracking_key, :thread_id, :recipient,
			:code, :subject, :reference, :strategy, :dry_run, :occurred_at
		)`, e)
	if err != nil {
		return fmt.Errorf("recording %s event for %s: %w", e.Kind, e.TrackingKey, err)
	}
	return nil
}

// ListEvents retrieves journal events matching the filter, newest first.
func (s *SQLiteStore) ListEvents(
	ctx context.Context,
	filter EventFilter,
) ([]model.Event, error) {
	var conditions []string
	var args []interface{}

	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.TrackingKey != nil {
		conditions = append(conditions, "tracking_key = ?")
		args = append(args, *filter.TrackingKey)
	}
	if filter.Code != nil {
		conditions = append(conditions, "code = ?")
		args = append(args, strings.ToUpper(*filter.Code))
	}
	if filter.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "(subject LIKE ? OR reference LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT * FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var events []model.Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return events, nil
}

// CountByCode returns the number of non-dry-run dispatches per category
// code since the given time.
func (s *SQLiteStore) CountByCode(
	ctx context.Context,
	since time.Time,
) (map[string]int, error) {
	var rows []struct {
		Code  string `db:"code"`
		Count int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT code, COUNT(*) AS n FROM events
		WHERE kind = ? AND dry_run = 0 AND occurred_at >= ?
		GROUP BY code`,
		string(model.EventDispatch), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("counting dispatches: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Code] = r.Count
	}
	return out, nil
}
