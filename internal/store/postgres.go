package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// Pool abstracts the pgxpool methods the store uses, so tests can substitute
// pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS attribution_originals (
	visitor_id TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attribution_sessions (
	session_id TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS consent_preferences (
	visitor_id TEXT PRIMARY KEY,
	preference JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	trigger_event TEXT NOT NULL,
	payload       BYTEA,
	received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS captured_events (
	id         TEXT PRIMARY KEY,
	event_name TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_attribution_sessions_expires ON attribution_sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_captured_events_created ON captured_events(created_at);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_trigger ON webhook_deliveries(trigger_event);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetOriginalAttribution(ctx context.Context, visitorID string) (*model.AttributionRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM attribution_originals WHERE visitor_id = $1`,
		visitorID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get original attribution %s", visitorID)
	}

	var rec model.AttributionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attribution")
	}
	return &rec, nil
}

func (s *PostgresStore) SetOriginalAttribution(ctx context.Context, visitorID string, rec *model.AttributionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attribution")
	}

	// First touch wins.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attribution_originals (visitor_id, record, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (visitor_id) DO NOTHING`,
		visitorID, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set original attribution %s", visitorID)
}

func (s *PostgresStore) GetSessionAttribution(ctx context.Context, sessionID string) (*model.SessionAttribution, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM attribution_sessions WHERE session_id = $1 AND expires_at > now()`,
		sessionID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session attribution %s", sessionID)
	}

	var sa model.SessionAttribution
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session attribution")
	}
	return &sa, nil
}

func (s *PostgresStore) SetSessionAttribution(ctx context.Context, sessionID string, sa *model.SessionAttribution, ttl time.Duration) error {
	raw, err := json.Marshal(sa)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session attribution")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attribution_sessions (session_id, record, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		sessionID, raw, now.Add(ttl), now,
	)
	return eris.Wrapf(err, "postgres: set session attribution %s", sessionID)
}

func (s *PostgresStore) GetConsent(ctx context.Context, visitorID string) (*model.ConsentPreference, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT preference FROM consent_preferences WHERE visitor_id = $1`,
		visitorID,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get consent %s", visitorID)
	}

	var pref model.ConsentPreference
	if err := json.Unmarshal(raw, &pref); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal consent")
	}
	return &pref, nil
}

func (s *PostgresStore) SetConsent(ctx context.Context, visitorID string, pref *model.ConsentPreference) error {
	raw, err := json.Marshal(pref)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consent")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consent_preferences (visitor_id, preference, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (visitor_id) DO UPDATE SET preference = EXCLUDED.preference, updated_at = EXCLUDED.updated_at`,
		visitorID, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set consent %s", visitorID)
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal booking")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO bookings (id, payload, created_at) VALUES ($1, $2, $3)`,
		b.ID, raw, b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert booking %s", b.ID)
}

func (s *PostgresStore) ListBookings(ctx context.Context, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM bookings ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list bookings")
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan booking")
		}
		var b model.Booking
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal booking")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate bookings")
}

func (s *PostgresStore) RecordWebhook(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, provider, trigger_event, payload, received_at) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Provider, d.TriggerEvent, d.Payload, d.ReceivedAt,
	)
	return eris.Wrapf(err, "postgres: insert webhook %s", d.ID)
}

func (s *PostgresStore) AppendCapturedEvent(ctx context.Context, rec *model.CapturedEventRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal captured event")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO captured_events (id, event_name, record, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), rec.EventName, raw, rec.Timestamp,
	)
	return eris.Wrapf(err, "postgres: insert captured event %s", rec.EventName)
}

func (s *PostgresStore) ListCapturedEvents(ctx context.Context, limit int) ([]model.CapturedEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM captured_events ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list captured events")
	}
	defer rows.Close()

	var out []model.CapturedEventRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan captured event")
		}
		var rec model.CapturedEventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal captured event")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate captured events")
}

func (s *PostgresStore) TrafficSourceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record->>'traffic_source' AS source, COUNT(*)
		 FROM attribution_originals GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: traffic source counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan traffic source count")
		}
		counts[source] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate traffic source counts")
}
