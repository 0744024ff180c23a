// Package lake writes committed event batches into the analytical
// store. Each flush is one transaction: the event rows plus a row in
// the commit ledger, so a commit version is either fully visible or
// absent and queries can pin any historical version.
package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftline-systems/driftline-stack/common/database"
	"github.com/driftline-systems/driftline-stack/common/models"
)

// Commit is one row of the commit ledger.
type Commit struct {
	Version     int64
	BatchID     string
	EventCount  int
	CommittedAt time.Time
}

// Store is the Postgres-backed lake.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the lake database and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping lake database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// RunMigrations applies pending schema migrations.
func RunMigrations(databaseURL, sourceURL string) error {
	m, err := migrate.New(sourceURL, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// URL to the pgx5 scheme the migrator
// driver registers under.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

var lakeEventColumns = []string{
	"commit_version",
	"event_day",
	"event_time",
	"channel",
	"event_type",
	"session_id",
	"platform",
	"event_category",
	"resource_id",
	"resource_title",
	"interaction_target",
	"user_id",
	"device_id",
	"user_agent",
	"client_version",
	"interaction_value",
	"interaction_text",
	"metadata",
}

// CommitBatch writes a batch of events and its ledger row in one
// transaction and returns the new commit version. On any error nothing
// is visible and the caller still owns the batch.
func (s *Store) CommitBatch(ctx context.Context, batchID string, events []*models.Event) (int64, error) {
	if len(events) == 0 {
		return 0, errors.New("empty batch")
	}

	ctx, cancel := database.Context(ctx, database.Bulk)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx,
		`INSERT INTO lake_commits (batch_id, event_count) VALUES ($1, $2) RETURNING version`,
		batchID, len(events),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("insert commit row: %w", err)
	}

	rows := make([][]any, 0, len(events))
	days := make(map[time.Time]struct{})
	for _, event := range events {
		eventTime := parseEventTime(event.Timestamp)
		day := eventTime.Truncate(24 * time.Hour)
		days[day] = struct{}{}
		rows = append(rows, eventRow(version, day, eventTime, event))
	}

	for day := range days {
		if err := ensurePartition(ctx, tx, day); err != nil {
			return 0, err
		}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"lake_events"},
		lakeEventColumns,
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("copy event rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch transaction: %w", err)
	}
	return version, nil
}

// LatestCommit returns the newest ledger row.
func (s *Store) LatestCommit(ctx context.Context) (*Commit, error) {
	ctx, cancel := database.Context(ctx, database.Query)
	defer cancel()

	var c Commit
	err := s.pool.QueryRow(ctx,
		`SELECT version, batch_id, event_count, committed_at
		 FROM lake_commits ORDER BY version DESC LIMIT 1`,
	).Scan(&c.Version, &c.BatchID, &c.EventCount, &c.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest commit: %w", err)
	}
	return &c, nil
}

// EventCountAsOf returns how many events were visible at the given
// commit version.
func (s *Store) EventCountAsOf(ctx context.Context, version int64) (int64, error) {
	ctx, cancel := database.Context(ctx, database.Query)
	defer cancel()

	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM lake_events WHERE commit_version <= $1`,
		version,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events as of version %d: %w", version, err)
	}
	return count, nil
}

// SessionEventsAsOf reads one session's events as they stood at the
// given commit version, in event time order.
func (s *Store) SessionEventsAsOf(ctx context.Context, sessionID string, version int64) ([]*models.Event, error) {
	ctx, cancel := database.Context(ctx, database.Query)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT channel, event_type, session_id, platform, event_category,
		        resource_id, resource_title, interaction_target, user_id,
		        device_id, user_agent, client_version, interaction_value,
		        interaction_text, event_time, metadata
		 FROM lake_events
		 WHERE session_id = $1 AND commit_version <= $2
		 ORDER BY event_time`,
		sessionID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			e         models.Event
			eventTime time.Time
			metadata  []byte
		)
		if err := rows.Scan(
			&e.Channel, &e.EventType, &e.SessionID, &e.Platform, &e.EventCategory,
			&e.ResourceID, &e.ResourceTitle, &e.InteractionTarget, &e.UserID,
			&e.DeviceID, &e.UserAgent, &e.ClientVersion, &e.InteractionValue,
			&e.InteractionText, &eventTime, &metadata,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Timestamp = eventTime.UTC().Format("2006-01-02T15:04:05.000Z")
		if len(metadata) > 0 && string(metadata) != "{}" {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ensurePartition creates the daily partition for day if it does not
// exist yet. Runs inside the batch transaction so the partition and the
// rows that need it appear together.
func ensurePartition(ctx context.Context, tx pgx.Tx, day time.Time) error {
	name := "lake_events_p" + day.Format("20060102")
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF lake_events FOR VALUES FROM ('%s') TO ('%s')`,
		name,
		day.Format("2006-01-02"),
		day.AddDate(0, 0, 1).Format("2006-01-02"),
	)
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure partition %s: %w", name, err)
	}
	return nil
}

func eventRow(version int64, day, eventTime time.Time, event *models.Event) []any {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			metadata = data
		}
	}
	return []any{
		version,
		day,
		eventTime,
		event.Channel,
		event.EventType,
		event.SessionID,
		event.Platform,
		event.EventCategory,
		event.ResourceID,
		event.ResourceTitle,
		event.InteractionTarget,
		event.UserID,
		event.DeviceID,
		event.UserAgent,
		event.ClientVersion,
		event.InteractionValue,
		event.InteractionText,
		metadata,
	}
}

// parseEventTime decodes the wire timestamp. Validation upstream makes
// unparsable values rare; arrival time is the fallback.
func parseEventTime(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
