package attribution

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/model"
	"github.com/meridian-keys/campaign-tracker/internal/store"
)

// Resolver computes and persists session attribution for one visitor session.
// Original (first-touch) attribution is written to durable storage once and
// never overwritten; the {current, original} pair is cached per session so a
// reload does not reclassify traffic as direct once the referrer is gone.
//
// Storage failures are swallowed with a warning: attribution must never block
// the page.
type Resolver struct {
	store      store.Store
	visitorID  string
	sessionID  string
	sessionTTL time.Duration

	mu     sync.Mutex
	cached *model.SessionAttribution
}

// NewResolver creates a resolver bound to a visitor and session.
func NewResolver(st store.Store, visitorID, sessionID string, sessionTTL time.Duration) *Resolver {
	if sessionTTL <= 0 {
		sessionTTL = 4 * time.Hour
	}
	return &Resolver{
		store:      st,
		visitorID:  visitorID,
		sessionID:  sessionID,
		sessionTTL: sessionTTL,
	}
}

// Resolve classifies the current page load and returns the current
// attribution record. It establishes first-touch attribution on the first
// call for a visitor and preserves the session's classification across
// reloads that arrive with no referrer and no UTM parameters.
func (r *Resolver) Resolve(ctx context.Context, currentURL, referrer string) *model.AttributionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := Classify(currentURL, referrer)

	pair := r.loadSession(ctx)
	if pair != nil && pair.Original != nil {
		// Same session: original is settled. A reload with no signals keeps
		// the session's classification; only page position moves.
		if !fresh.HasUTM() && referrer == "" && pair.Current != nil {
			fresh.TrafficSource = pair.Current.TrafficSource
			fresh.UTMSource = pair.Current.UTMSource
			fresh.UTMMedium = pair.Current.UTMMedium
			fresh.UTMCampaign = pair.Current.UTMCampaign
			fresh.UTMContent = pair.Current.UTMContent
			fresh.UTMTerm = pair.Current.UTMTerm
			fresh.Referrer = pair.Current.Referrer
			fresh.ReferrerDomain = pair.Current.ReferrerDomain
		}
		pair.Current = fresh
		r.cached = pair
		r.saveSession(ctx)
		return fresh
	}

	// New session: look up the visitor's first touch.
	original := r.loadOriginal(ctx)
	if original == nil {
		first := *fresh
		first.IsFirstVisit = true
		original = &first
		if r.store != nil {
			if err := r.store.SetOriginalAttribution(ctx, r.visitorID, original); err != nil {
				zap.L().Warn("attribution: persist first touch failed",
					zap.String("visitor_id", r.visitorID),
					zap.Error(err),
				)
			}
		}
		fresh.IsFirstVisit = true
	}

	r.cached = &model.SessionAttribution{Current: fresh, Original: original}
	r.saveSession(ctx)
	return fresh
}

// Current returns the cached current record without recomputation.
func (r *Resolver) Current() *model.AttributionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil {
		return nil
	}
	return r.cached.Current
}

// Original returns the cached first-touch record without recomputation.
func (r *Resolver) Original() *model.AttributionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil {
		return nil
	}
	return r.cached.Original
}

// UpdateCurrent recomputes the current record for a client-side route change
// without touching the original.
func (r *Resolver) UpdateCurrent(ctx context.Context, currentURL, referrer string) *model.AttributionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := Classify(currentURL, referrer)
	if r.cached == nil {
		r.cached = &model.SessionAttribution{Current: fresh}
	} else {
		r.cached.Current = fresh
	}
	r.saveSession(ctx)
	return fresh
}

func (r *Resolver) loadSession(ctx context.Context) *model.SessionAttribution {
	if r.cached != nil {
		return r.cached
	}
	if r.store == nil {
		return nil
	}
	pair, err := r.store.GetSessionAttribution(ctx, r.sessionID)
	if err != nil {
		if !isNotFound(err) {
			zap.L().Warn("attribution: session cache read failed",
				zap.String("session_id", r.sessionID),
				zap.Error(err),
			)
		}
		return nil
	}
	return pair
}

func (r *Resolver) saveSession(ctx context.Context) {
	if r.store == nil || r.cached == nil {
		return
	}
	if err := r.store.SetSessionAttribution(ctx, r.sessionID, r.cached, r.sessionTTL); err != nil {
		zap.L().Warn("attribution: session cache write failed",
			zap.String("session_id", r.sessionID),
			zap.Error(err),
		)
	}
}

func (r *Resolver) loadOriginal(ctx context.Context) *model.AttributionRecord {
	if r.store == nil {
		return nil
	}
	rec, err := r.store.GetOriginalAttribution(ctx, r.visitorID)
	if err != nil {
		if !isNotFound(err) {
			zap.L().Warn("attribution: first touch read failed",
				zap.String("visitor_id", r.visitorID),
				zap.Error(err),
			)
		}
		return nil
	}
	return rec
}

func isNotFound(err error) bool {
	return eris.Is(err, store.ErrNotFound)
}
