// Package capture is the single entry point for analytics events. It
// validates, enriches with attribution and campaign context, forwards to
// PostHog, and keeps a diagnostic ring of recent attempts.
package capture

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/attribution"
	"github.com/meridian-keys/campaign-tracker/internal/campaign"
	"github.com/meridian-keys/campaign-tracker/internal/model"
	"github.com/meridian-keys/campaign-tracker/internal/resilience"
	"github.com/meridian-keys/campaign-tracker/internal/schema"
	"github.com/meridian-keys/campaign-tracker/internal/store"
	"github.com/meridian-keys/campaign-tracker/pkg/posthog"
)

// Options carries per-call context for a capture.
type Options struct {
	// SkipValidation forwards the properties untouched. Used for events whose
	// shape is owned by a third party (embed callbacks, error reports).
	SkipValidation bool

	DistinctID string
	SessionID  string
	PageURL    string
	UserAgent  string

	// Resolver supplies the session's attribution pair. Optional.
	Resolver *attribution.Resolver
}

// Result is the outcome of one capture attempt. Capture never returns an
// error; failure is a field, not a control-flow branch.
type Result struct {
	Success    bool                   `json:"success"`
	EventID    string                 `json:"event_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Validation model.ValidationResult `json:"validation"`
}

// Facade composes the validator, campaign resolver, PostHog client, and the
// diagnostic ring. Construct with New; it has no package-level state.
type Facade struct {
	client    posthog.Client
	campaigns *campaign.Resolver
	mirror    store.Store
	buffer    *ring
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig

	nowFunc func() time.Time
}

// New creates a capture facade. mirror may be nil; records are then kept only
// in memory.
func New(client posthog.Client, campaigns *campaign.Resolver, mirror store.Store, bufferSize int) *Facade {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("posthog", "capture")

	return &Facade{
		client:    client,
		campaigns: campaigns,
		mirror:    mirror,
		buffer:    newRing(bufferSize),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("capture: forwarding circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		retry:   retry,
		nowFunc: time.Now,
	}
}

// Capture validates, enriches, and forwards one event. Invalid events are
// still forwarded with their sanitized properties; validation problems are
// reported in the result, never used to drop data.
func (f *Facade) Capture(ctx context.Context, name string, props map[string]any, opts Options) Result {
	now := f.nowFunc().UTC()
	eventID := uuid.NewString()

	var validation model.ValidationResult
	if opts.SkipValidation {
		sanitized := make(map[string]any, len(props))
		for k, v := range props {
			sanitized[k] = v
		}
		validation = model.ValidationResult{IsValid: true, SanitizedProperties: sanitized}
	} else {
		validation = schema.Validate(name, props)
	}

	enriched := f.enrich(validation.SanitizedProperties, eventID, now, opts)

	success := true
	if f.client == nil || !f.client.Enabled() {
		success = false
		validation.Errors = append(validation.Errors, "client not initialized")
	} else {
		// Transient vendor failures get bounded retries; the breaker sees one
		// failure per exhausted attempt chain, not one per wire error.
		err := f.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Do(ctx, f.retry, func(ctx context.Context) error {
				return f.client.Capture(ctx, posthog.Event{
					Event:      name,
					DistinctID: opts.DistinctID,
					Properties: enriched,
					Timestamp:  now,
				})
			})
		})
		if err != nil {
			success = false
			zap.L().Warn("capture: forward failed",
				zap.String("event", name),
				zap.Error(err),
			)
		}
	}

	f.record(ctx, model.CapturedEventRecord{
		EventName:  name,
		Properties: enriched,
		Timestamp:  now,
		Success:    success,
		Validation: validation,
	})

	return Result{
		Success:    success,
		EventID:    eventID,
		Timestamp:  now,
		Validation: validation,
	}
}

// CaptureServer captures an event on a server-side path and synchronously
// flushes the client queue. Request-scoped code must not leave events behind
// in a buffer that nothing will drain.
func (f *Facade) CaptureServer(ctx context.Context, distinctID, name string, props map[string]any, userProps map[string]any) Result {
	merged := make(map[string]any, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	if len(userProps) > 0 {
		merged["$set"] = userProps
	}

	res := f.Capture(ctx, name, merged, Options{
		SkipValidation: true,
		DistinctID:     distinctID,
	})

	if f.client != nil && f.client.Enabled() {
		if err := f.client.Flush(ctx); err != nil {
			zap.L().Warn("capture: flush failed", zap.Error(err))
		}
	}
	return res
}

// Recent returns up to n diagnostic records, newest first.
func (f *Facade) Recent(n int) []model.CapturedEventRecord {
	return f.buffer.recent(n)
}

// Stats returns all-time capture counters.
func (f *Facade) Stats() Stats {
	return f.buffer.stats()
}

func (f *Facade) enrich(sanitized map[string]any, eventID string, now time.Time, opts Options) map[string]any {
	out := make(map[string]any, len(sanitized)+16)
	for k, v := range sanitized {
		out[k] = v
	}

	out["$insert_id"] = eventID
	out["timestamp"] = now.Format(time.RFC3339)
	if opts.PageURL != "" {
		out["$current_url"] = opts.PageURL
	}
	if opts.SessionID != "" {
		out["$session_id"] = opts.SessionID
	}
	if opts.UserAgent != "" {
		out["$useragent"] = opts.UserAgent
	}

	// First-touch attribution rides on every event so downstream reporting
	// never needs a join.
	if opts.Resolver != nil {
		if orig := opts.Resolver.Original(); orig != nil {
			setIfAbsent(out, "traffic_source", string(orig.TrafficSource))
			setIfAbsent(out, "utm_source", orig.UTMSource)
			setIfAbsent(out, "utm_medium", orig.UTMMedium)
			setIfAbsent(out, "utm_campaign", orig.UTMCampaign)
			setIfAbsent(out, "utm_content", orig.UTMContent)
			setIfAbsent(out, "utm_term", orig.UTMTerm)
			setIfAbsent(out, "referrer_domain", orig.ReferrerDomain)
			setIfAbsent(out, "entry_page", orig.EntryPage)
			out["is_first_visit"] = orig.IsFirstVisit
		}
	}

	if f.campaigns != nil && opts.PageURL != "" {
		cc := f.campaigns.Resolve(pathOf(opts.PageURL))
		setIfAbsent(out, "campaign_id", cc.CampaignID)
		setIfAbsent(out, "event_context", cc.EventContext)
		setIfAbsent(out, "page_variant", cc.PageVariant)
		setIfAbsent(out, "target_audience", cc.TargetAudience)
		setIfAbsent(out, "campaign_type", string(cc.CampaignType))
		if cc.University != "" {
			setIfAbsent(out, "university", cc.University)
		}
		if cc.ProgramFocus != "" {
			setIfAbsent(out, "program_focus", cc.ProgramFocus)
		}
	}

	return out
}

func (f *Facade) record(ctx context.Context, rec model.CapturedEventRecord) {
	f.buffer.add(rec)

	if f.mirror == nil {
		return
	}
	if err := f.mirror.AppendCapturedEvent(ctx, &rec); err != nil {
		zap.L().Warn("capture: mirror write failed",
			zap.String("event", rec.EventName),
			zap.Error(err),
		)
	}
}

func setIfAbsent(m map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
