package model

import "time"

// TrafficSource classifies how a visitor arrived at the site.
type TrafficSource string

const (
	TrafficOrganic  TrafficSource = "organic"
	TrafficDirect   TrafficSource = "direct"
	TrafficReferral TrafficSource = "referral"
	TrafficSocial   TrafficSource = "social"
	TrafficEmail    TrafficSource = "email"
	TrafficPaid     TrafficSource = "paid"
	TrafficUnknown  TrafficSource = "unknown"
)

// AttributionRecord captures the marketing source of a single page load.
type AttributionRecord struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	TrafficSource  TrafficSource `json:"traffic_source"`
	Referrer       string        `json:"referrer,omitempty"`
	ReferrerDomain string        `json:"referrer_domain,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	URL          string    `json:"url"`
	EntryPage    string    `json:"entry_page"`
	IsFirstVisit bool      `json:"is_first_visit"`
}

// HasUTM reports whether any UTM parameter was present on the tracked URL.
func (r *AttributionRecord) HasUTM() bool {
	return r.UTMSource != "" || r.UTMMedium != "" || r.UTMCampaign != "" ||
		r.UTMContent != "" || r.UTMTerm != ""
}

// SessionAttribution pairs the latest attribution with the first-touch one.
// Original is written once per visitor and never overwritten; Current is
// recomputed on every navigation.
type SessionAttribution struct {
	Current  *AttributionRecord `json:"current"`
	Original *AttributionRecord `json:"original"`
}
