package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS attribution_originals (
	visitor_id TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attribution_sessions (
	session_id TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS consent_preferences (
	visitor_id TEXT PRIMARY KEY,
	preference TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	trigger_event TEXT NOT NULL,
	payload       BLOB,
	received_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS captured_events (
	id         TEXT PRIMARY KEY,
	event_name TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_attribution_sessions_expires ON attribution_sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_captured_events_created ON captured_events(created_at);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_trigger ON webhook_deliveries(trigger_event);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOriginalAttribution(ctx context.Context, visitorID string) (*model.AttributionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM attribution_originals WHERE visitor_id = ?`,
		visitorID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get original attribution %s", visitorID)
	}

	var rec model.AttributionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attribution")
	}
	return &rec, nil
}

func (s *SQLiteStore) SetOriginalAttribution(ctx context.Context, visitorID string, rec *model.AttributionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attribution")
	}

	// First touch wins: a later insert for the same visitor is a no-op.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attribution_originals (visitor_id, record, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(visitor_id) DO NOTHING`,
		visitorID, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set original attribution %s", visitorID)
}

func (s *SQLiteStore) GetSessionAttribution(ctx context.Context, sessionID string) (*model.SessionAttribution, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM attribution_sessions WHERE session_id = ? AND expires_at > ?`,
		sessionID, time.Now().UTC(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session attribution %s", sessionID)
	}

	var sa model.SessionAttribution
	if err := json.Unmarshal([]byte(raw), &sa); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session attribution")
	}
	return &sa, nil
}

func (s *SQLiteStore) SetSessionAttribution(ctx context.Context, sessionID string, sa *model.SessionAttribution, ttl time.Duration) error {
	raw, err := json.Marshal(sa)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session attribution")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attribution_sessions (session_id, record, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		sessionID, string(raw), now.Add(ttl), now,
	)
	return eris.Wrapf(err, "sqlite: set session attribution %s", sessionID)
}

func (s *SQLiteStore) GetConsent(ctx context.Context, visitorID string) (*model.ConsentPreference, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT preference FROM consent_preferences WHERE visitor_id = ?`,
		visitorID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get consent %s", visitorID)
	}

	var pref model.ConsentPreference
	if err := json.Unmarshal([]byte(raw), &pref); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal consent")
	}
	return &pref, nil
}

func (s *SQLiteStore) SetConsent(ctx context.Context, visitorID string, pref *model.ConsentPreference) error {
	raw, err := json.Marshal(pref)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal consent")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consent_preferences (visitor_id, preference, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(visitor_id) DO UPDATE SET preference = excluded.preference, updated_at = excluded.updated_at`,
		visitorID, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set consent %s", visitorID)
}

func (s *SQLiteStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal booking")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, payload, created_at) VALUES (?, ?, ?)`,
		b.ID, string(raw), b.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert booking %s", b.ID)
}

func (s *SQLiteStore) ListBookings(ctx context.Context, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM bookings ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list bookings")
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan booking")
		}
		var b model.Booking
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal booking")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate bookings")
}

func (s *SQLiteStore) RecordWebhook(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, provider, trigger_event, payload, received_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Provider, d.TriggerEvent, d.Payload, d.ReceivedAt,
	)
	return eris.Wrapf(err, "sqlite: insert webhook %s", d.ID)
}

func (s *SQLiteStore) AppendCapturedEvent(ctx context.Context, rec *model.CapturedEventRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal captured event")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO captured_events (id, event_name, record, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), rec.EventName, string(raw), rec.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: insert captured event %s", rec.EventName)
}

func (s *SQLiteStore) ListCapturedEvents(ctx context.Context, limit int) ([]model.CapturedEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM captured_events ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list captured events")
	}
	defer rows.Close()

	var out []model.CapturedEventRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan captured event")
		}
		var rec model.CapturedEventRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal captured event")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate captured events")
}

func (s *SQLiteStore) TrafficSourceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(record, '$.traffic_source') AS source, COUNT(*)
		 FROM attribution_originals GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: traffic source counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source sql.NullString
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan traffic source count")
		}
		if source.Valid {
			counts[source.String] = n
		}
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate traffic source counts")
}
