// Package store persists attribution, consent, booking, and diagnostic event
// data behind a driver-agnostic interface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the campaign tracker.
type Store interface {
	// Attribution. SetOriginalAttribution has first-touch semantics: the
	// first write for a visitor wins and later writes are silently ignored.
	GetOriginalAttribution(ctx context.Context, visitorID string) (*model.AttributionRecord, error)
	SetOriginalAttribution(ctx context.Context, visitorID string, rec *model.AttributionRecord) error
	GetSessionAttribution(ctx context.Context, sessionID string) (*model.SessionAttribution, error)
	SetSessionAttribution(ctx context.Context, sessionID string, sa *model.SessionAttribution, ttl time.Duration) error

	// Consent
	GetConsent(ctx context.Context, visitorID string) (*model.ConsentPreference, error)
	SetConsent(ctx context.Context, visitorID string, pref *model.ConsentPreference) error

	// Bookings
	CreateBooking(ctx context.Context, b *model.Booking) error
	ListBookings(ctx context.Context, limit int) ([]model.Booking, error)

	// Webhook deliveries
	RecordWebhook(ctx context.Context, d *model.WebhookDelivery) error

	// Captured events (diagnostic mirror of the in-memory ring buffer)
	AppendCapturedEvent(ctx context.Context, rec *model.CapturedEventRecord) error
	ListCapturedEvents(ctx context.Context, limit int) ([]model.CapturedEventRecord, error)

	// TrafficSourceCounts aggregates first-touch attribution by source for
	// reporting.
	TrafficSourceCounts(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
