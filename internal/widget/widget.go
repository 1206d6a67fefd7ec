// Package widget manages the lifecycle of a preloaded third-party scheduling
// embed: a single pooled instance that is checked out into a visible dialog
// and returned to a hidden slot, so opening the scheduler never pays the
// third-party initialization latency twice.
package widget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/capture"
	"github.com/meridian-keys/campaign-tracker/internal/resilience"
)

// State is the lifecycle state of the pooled embed.
type State int

const (
	StateUnloaded State = iota
	StatePreloading
	StateReady
	StateDisplayed
	StateReturned
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StatePreloading:
		return "preloading"
	case StateReady:
		return "ready"
	case StateDisplayed:
		return "displayed"
	case StateReturned:
		return "returned"
	default:
		return "unknown"
	}
}

// Content is the opaque embed payload held by a container. There is exactly
// one live instance; Open moves it, never copies it.
type Content struct {
	Markup string
	Source string
}

// Event is one message from the embed's event stream.
type Event struct {
	Name    string
	Payload map[string]any
}

// EmbedLoader initializes embed content and exposes its event stream.
// Load returns resilience.ErrNotReady while the third-party library is still
// loading.
type EmbedLoader interface {
	Load(ctx context.Context) (*Content, error)
	Events() <-chan Event
	Teardown()
}

// Config bounds readiness polling and supplies the degraded-mode contact
// details.
type Config struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	FallbackURL     string
	FallbackPhone   string
}

// Manager owns the single pooled embed instance.
type Manager struct {
	loader EmbedLoader
	facade *capture.Facade
	opts   capture.Options
	cfg    Config

	mu       sync.Mutex
	state    State
	slot     *Content // hidden container
	dialog   *Content // visible container
	fallback bool

	stopEvents chan struct{}
}

// NewManager creates a widget manager. facade may be nil; embed events are
// then dropped instead of re-captured.
func NewManager(loader EmbedLoader, facade *capture.Facade, opts capture.Options, cfg Config) *Manager {
	return &Manager{
		loader: loader,
		facade: facade,
		opts:   opts,
		cfg:    cfg,
		state:  StateUnloaded,
	}
}

// Preload initializes the embed into the hidden slot ahead of any user
// action. Safe to call once per page lifecycle; a populated slot is a no-op.
func (m *Manager) Preload(ctx context.Context) error {
	m.mu.Lock()
	if m.slot != nil || m.state == StatePreloading || m.state == StateDisplayed {
		m.mu.Unlock()
		return nil
	}
	m.state = StatePreloading
	m.mu.Unlock()

	content, err := m.load(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateUnloaded
		zap.L().Warn("widget: preload failed", zap.Error(err))
		return eris.Wrap(err, "widget: preload")
	}

	m.slot = content
	m.state = StateReady
	m.startEventsLocked(ctx)
	return nil
}

// Open checks the pooled embed out into the dialog. If the slot is empty it
// initializes directly into the dialog, and on polling exhaustion fills the
// dialog with static fallback markup. The scheduler must degrade to "still
// bookable", so Open only errors when the dialog is already occupied.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisplayed {
		m.mu.Unlock()
		return eris.New("widget: dialog already open")
	}
	if m.slot != nil {
		// The move: dialog takes the slot's instance, slot goes empty.
		m.dialog = m.slot
		m.slot = nil
		m.state = StateDisplayed
		// Close tears the subscription down, so a reopen from the pool must
		// bring it back or embed events go nowhere.
		m.startEventsLocked(ctx)
		m.mu.Unlock()
		return nil
	}
	m.state = StatePreloading
	m.mu.Unlock()

	content, err := m.load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		zap.L().Warn("widget: direct load failed, using fallback", zap.Error(err))
		m.dialog = m.fallbackContent()
		m.fallback = true
		m.state = StateDisplayed
		return nil
	}

	m.dialog = content
	m.state = StateDisplayed
	m.startEventsLocked(ctx)
	return nil
}

// Close returns the embed to the hidden slot and tears down the event
// subscription. Fallback markup is discarded, not pooled.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisplayed {
		return
	}
	if !m.fallback {
		m.slot = m.dialog
	}
	m.dialog = nil
	m.fallback = false
	m.state = StateReturned

	m.stopEventsLocked()
	m.loader.Teardown()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Slot returns the hidden container's content, nil when checked out.
func (m *Manager) Slot() *Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot
}

// Dialog returns the visible container's content, nil when closed.
func (m *Manager) Dialog() *Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dialog
}

// UsingFallback reports whether the dialog holds static fallback markup.
func (m *Manager) UsingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

func (m *Manager) load(ctx context.Context) (*Content, error) {
	var content *Content
	err := resilience.Poll(ctx, m.cfg.PollInterval, m.cfg.PollMaxAttempts, func(ctx context.Context) error {
		c, err := m.loader.Load(ctx)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (m *Manager) fallbackContent() *Content {
	return &Content{
		Markup: fmt.Sprintf(
			`<div class="scheduler-fallback"><p>Online scheduling is temporarily unavailable.</p><p><a href=%q>Book your showroom visit directly</a> or call %s.</p></div>`,
			m.cfg.FallbackURL, m.cfg.FallbackPhone,
		),
		Source: m.cfg.FallbackURL,
	}
}

// embedEventPrefix scopes the embed's message stream; anything else on the
// channel is not ours.
const embedEventPrefix = "calendly."

// canonicalEmbedEvents maps recognized message suffixes to the analytics
// event they produce. Vendor message names drifted over time, so two aliases
// exist for the scheduling milestones.
var canonicalEmbedEvents = map[string]string{
	"profile_page_viewed":        "calendly_profile_page_viewed",
	"event_type_viewed":          "calendly_event_type_viewed",
	"date_and_time_selected":     "calendly_date_and_time_selected",
	"invitee_date_time_selected": "calendly_date_and_time_selected",
	"event_scheduled":            "calendly_event_scheduled",
	"invitee_scheduled":          "calendly_event_scheduled",
}

func (m *Manager) startEventsLocked(ctx context.Context) {
	if m.stopEvents != nil {
		return
	}
	stop := make(chan struct{})
	m.stopEvents = stop

	go func() {
		events := m.loader.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				// Teardown and a buffered event can be ready at once; the
				// subscription must not deliver after Close.
				select {
				case <-stop:
					return
				default:
				}
				m.handleEvent(ctx, ev)
			}
		}
	}()
}

func (m *Manager) stopEventsLocked() {
	if m.stopEvents != nil {
		close(m.stopEvents)
		m.stopEvents = nil
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev Event) {
	if !strings.HasPrefix(ev.Name, embedEventPrefix) {
		return
	}
	name, ok := canonicalEmbedEvents[strings.TrimPrefix(ev.Name, embedEventPrefix)]
	if !ok {
		return
	}
	if m.facade == nil {
		return
	}

	props := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		props[k] = v
	}
	props["embed_event"] = ev.Name

	opts := m.opts
	opts.SkipValidation = true
	m.facade.Capture(ctx, name, props, opts)
}
