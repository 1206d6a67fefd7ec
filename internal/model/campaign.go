package model

// CampaignType distinguishes partner co-marketing pages from our own funnels.
type CampaignType string

const (
	CampaignUniversityPartnership CampaignType = "university_partnership"
	CampaignDirectMarketing       CampaignType = "direct_marketing"
)

// CampaignContext is the static marketing profile attached to every event
// captured from a page variant. Contexts are configuration constants resolved
// by URL path prefix; they are never mutated at runtime.
type CampaignContext struct {
	CampaignID     string       `json:"campaign_id" yaml:"campaign_id"`
	Partner        string       `json:"partner" yaml:"partner"`
	EventContext   string       `json:"event_context" yaml:"event_context"`
	PageVariant    string       `json:"page_variant" yaml:"page_variant"`
	TargetAudience string       `json:"target_audience" yaml:"target_audience"`
	CampaignType   CampaignType `json:"campaign_type" yaml:"campaign_type"`
	University     string       `json:"university,omitempty" yaml:"university,omitempty"`
	ProgramFocus   string       `json:"program_focus,omitempty" yaml:"program_focus,omitempty"`

	// PathPrefixes lists the URL paths this context claims. "/" matches
	// exactly; anything else matches by prefix.
	PathPrefixes []string `json:"path_prefixes" yaml:"path_prefixes"`
}

// UTMEquivalent is a UTM-shaped view of a campaign context so that direct
// campaign-path traffic still populates UTM reporting fields.
type UTMEquivalent struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
	Term     string `json:"utm_term"`
}
