// Package attribution classifies traffic sources from UTM parameters and
// referrers, and maintains first-touch and current attribution records.
package attribution

import (
	"net/url"
	"strings"
	"time"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// mediumSources maps utm_medium values straight to a traffic source.
// Explicit marketing tags outrank every inferred signal.
var mediumSources = map[string]model.TrafficSource{
	"cpc":         model.TrafficPaid,
	"ppc":         model.TrafficPaid,
	"paid":        model.TrafficPaid,
	"paid_social": model.TrafficPaid,
	"display":     model.TrafficPaid,
	"email":       model.TrafficEmail,
	"newsletter":  model.TrafficEmail,
	"social":      model.TrafficSocial,
	"organic":     model.TrafficOrganic,
	"referral":    model.TrafficReferral,
}

// searchFragments and socialFragments are matched as substrings against
// utm_source values and referrer hostnames.
var searchFragments = []string{
	"google", "bing", "yahoo", "duckduckgo", "baidu", "ecosia", "brave",
}

var socialFragments = []string{
	"facebook", "instagram", "twitter", "x.com", "t.co", "fb.me",
	"linkedin", "tiktok", "youtube", "pinterest", "reddit", "nextdoor",
}

var emailFragments = []string{
	"mail.google", "outlook.live", "mail.yahoo", "constantcontact",
	"mailchimp", "campaign-archive",
}

// Classify derives an AttributionRecord from a page URL and its referrer.
// It never fails: unparsable inputs degrade to a direct/unknown record.
func Classify(currentURL, referrer string) *model.AttributionRecord {
	rec := &model.AttributionRecord{
		URL:       currentURL,
		Referrer:  referrer,
		Timestamp: time.Now().UTC(),
	}

	var currentHost string
	if u, err := url.Parse(currentURL); err == nil {
		currentHost = strings.ToLower(u.Hostname())
		rec.EntryPage = u.Path
		if rec.EntryPage == "" {
			rec.EntryPage = "/"
		}

		q := u.Query()
		rec.UTMSource = q.Get("utm_source")
		rec.UTMMedium = q.Get("utm_medium")
		rec.UTMCampaign = q.Get("utm_campaign")
		rec.UTMContent = q.Get("utm_content")
		rec.UTMTerm = q.Get("utm_term")
	} else {
		rec.EntryPage = "/"
	}

	if referrer != "" {
		if u, err := url.Parse(referrer); err == nil {
			rec.ReferrerDomain = strings.ToLower(u.Hostname())
		}
	}

	rec.TrafficSource = classifySource(rec, currentHost)
	return rec
}

func classifySource(rec *model.AttributionRecord, currentHost string) model.TrafficSource {
	// (a) utm_medium maps directly.
	if src, ok := mediumSources[strings.ToLower(rec.UTMMedium)]; ok {
		return src
	}

	// (b) utm_source checked against known name fragments.
	if s := strings.ToLower(rec.UTMSource); s != "" {
		if matchesAny(s, searchFragments) {
			return model.TrafficOrganic
		}
		if matchesAny(s, socialFragments) {
			return model.TrafficSocial
		}
		if matchesAny(s, emailFragments) {
			return model.TrafficEmail
		}
	}

	// (c) referrer hostname against domain lists; internal navigation is
	// treated as direct.
	if rec.ReferrerDomain != "" {
		if currentHost != "" && rec.ReferrerDomain == currentHost {
			return model.TrafficDirect
		}
		if matchesAny(rec.ReferrerDomain, socialFragments) {
			return model.TrafficSocial
		}
		if matchesAny(rec.ReferrerDomain, searchFragments) {
			return model.TrafficOrganic
		}
		if matchesAny(rec.ReferrerDomain, emailFragments) {
			return model.TrafficEmail
		}
		return model.TrafficReferral
	}

	// (d) no referrer at all.
	if rec.Referrer == "" {
		return model.TrafficDirect
	}

	// (e) referrer present but unparsable.
	return model.TrafficUnknown
}

func matchesAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
