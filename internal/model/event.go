package model

import "time"

// ValidationResult is the outcome of validating one event's property bag.
// It is created fresh per validation call and never mutated after return.
type ValidationResult struct {
	IsValid             bool           `json:"is_valid"`
	Errors              []string       `json:"errors,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
	SanitizedProperties map[string]any `json:"sanitized_properties"`
}

// CapturedEventRecord is a diagnostic ring-buffer entry describing one
// capture attempt and its validation outcome.
type CapturedEventRecord struct {
	EventName  string           `json:"event_name"`
	Properties map[string]any   `json:"properties"`
	Timestamp  time.Time        `json:"timestamp"`
	Success    bool             `json:"success"`
	Validation ValidationResult `json:"validation"`
}

// Booking is a scheduling request received from a landing page.
type Booking struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	PreferredDate string    `json:"preferred_date,omitempty"`
	Source        string    `json:"source,omitempty"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookDelivery records one inbound scheduling-provider webhook.
type WebhookDelivery struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	TriggerEvent string    `json:"trigger_event"`
	Payload      []byte    `json:"payload"`
	ReceivedAt   time.Time `json:"received_at"`
}

// ConsentPreference is a visitor's tracking consent choice.
type ConsentPreference struct {
	Analytics   bool      `json:"analytics"`
	Advertising bool      `json:"advertising"`
	Functional  bool      `json:"functional"`
	Timestamp   time.Time `json:"timestamp"`
}

// BootstrapPayload is the short-lived flag bootstrap handed to the client so
// it can start capturing without a flags round-trip.
type BootstrapPayload struct {
	DistinctID   string          `json:"distinctID"`
	FeatureFlags map[string]bool `json:"featureFlags"`
	Timestamp    time.Time       `json:"timestamp"`
}

// VisitorCookie is the long-lived identity payload set once per visitor.
type VisitorCookie struct {
	DistinctID             string            `json:"distinct_id"`
	DeviceID               string            `json:"$device_id"`
	InitialReferrer        string            `json:"$initial_referrer,omitempty"`
	InitialReferringDomain string            `json:"$initial_referring_domain,omitempty"`
	Props                  map[string]string `json:"props,omitempty"`
}
