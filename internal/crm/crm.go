// Package crm hands completed bookings off to Salesforce as leads. The sink
// is optional; without credentials it is a no-op, and failures are logged
// rather than surfaced because a lost lead must never fail a booking.
package crm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/config"
	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// Inserter is the slice of the Salesforce API the sink uses.
type Inserter interface {
	InsertOne(sObjectName string, record any) (salesforce.SalesforceResult, error)
}

// LeadSink pushes bookings into Salesforce.
type LeadSink struct {
	client Inserter
}

// NewLeadSink builds a JWT-authenticated sink from config. An empty client ID
// disables the sink.
func NewLeadSink(cfg config.SalesforceConfig) (*LeadSink, error) {
	if cfg.ClientID == "" {
		return &LeadSink{}, nil
	}

	pemData, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "crm: read JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.LoginURL,
		Username:       cfg.Username,
		ConsumerKey:    cfg.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "crm: init salesforce")
	}

	return &LeadSink{client: sf}, nil
}

// NewLeadSinkWithInserter wraps an existing Salesforce client.
func NewLeadSinkWithInserter(ins Inserter) *LeadSink {
	return &LeadSink{client: ins}
}

// Enabled reports whether leads will actually be pushed.
func (s *LeadSink) Enabled() bool {
	return s != nil && s.client != nil
}

// PushBooking creates a Lead for the booking. Best effort: failures are
// logged with the booking ID so they can be replayed by hand.
func (s *LeadSink) PushBooking(ctx context.Context, b *model.Booking) {
	if !s.Enabled() {
		return
	}

	result, err := s.client.InsertOne("Lead", leadRecord(b))
	if err == nil && !result.Success {
		err = eris.New(fmt.Sprintf("crm: lead rejected: %v", result.Errors))
	}
	if err != nil {
		zap.L().Warn("crm: lead push failed",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("crm: lead created",
		zap.String("booking_id", b.ID),
		zap.String("lead_id", result.Id),
	)
}

func leadRecord(b *model.Booking) map[string]any {
	first, last := splitName(b.Name)
	rec := map[string]any{
		"FirstName":  first,
		"LastName":   last,
		"Email":      b.Email,
		"Company":    "Individual",
		"LeadSource": "Piano Sale Website",
	}
	if b.Phone != "" {
		rec["Phone"] = b.Phone
	}

	var notes []string
	if b.PreferredDate != "" {
		notes = append(notes, "Preferred date: "+b.PreferredDate)
	}
	if b.Source != "" {
		notes = append(notes, "Source: "+b.Source)
	}
	if b.CampaignID != "" {
		notes = append(notes, "Campaign: "+b.CampaignID)
	}
	if len(notes) > 0 {
		rec["Description"] = strings.Join(notes, "\n")
	}
	return rec
}

// splitName turns a free-form name into Salesforce's required first/last
// pair. LastName is mandatory on Lead, so a single token goes there.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", "Unknown"
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}
