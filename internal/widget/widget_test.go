package widget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-keys/campaign-tracker/internal/capture"
	"github.com/meridian-keys/campaign-tracker/internal/resilience"
	"github.com/meridian-keys/campaign-tracker/pkg/posthog"
)

// fakeLoader becomes ready after readyAfter Load calls. readyAfter < 0 means
// never ready.
type fakeLoader struct {
	mu         sync.Mutex
	calls      int
	readyAfter int
	events     chan Event
	teardowns  int
}

func newFakeLoader(readyAfter int) *fakeLoader {
	return &fakeLoader{readyAfter: readyAfter, events: make(chan Event, 8)}
}

func (l *fakeLoader) Load(ctx context.Context) (*Content, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.readyAfter < 0 || l.calls < l.readyAfter {
		return nil, resilience.ErrNotReady
	}
	return &Content{Markup: "<iframe>scheduler</iframe>", Source: "https://calendly.example/meridian"}, nil
}

func (l *fakeLoader) Events() <-chan Event { return l.events }

func (l *fakeLoader) Teardown() {
	l.mu.Lock()
	l.teardowns++
	l.mu.Unlock()
}

func testConfig() Config {
	return Config{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
		FallbackURL:     "https://calendly.com/meridian-keys/showroom",
		FallbackPhone:   "(972) 555-0143",
	}
}

func TestPreloadThenOpen_MovesContent(t *testing.T) {
	m := NewManager(newFakeLoader(2), nil, capture.Options{}, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Preload(ctx))
	assert.Equal(t, StateReady, m.State())
	preloaded := m.Slot()
	require.NotNil(t, preloaded)

	require.NoError(t, m.Open(ctx))
	assert.Equal(t, StateDisplayed, m.State())

	// A move, not a copy: the same instance changed containers and the total
	// across both containers is still one.
	assert.Nil(t, m.Slot())
	assert.Same(t, preloaded, m.Dialog())
}

func TestClose_ReturnsContentToSlot(t *testing.T) {
	loader := newFakeLoader(1)
	m := NewManager(loader, nil, capture.Options{}, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Preload(ctx))
	require.NoError(t, m.Open(ctx))
	displayed := m.Dialog()

	m.Close()
	assert.Equal(t, StateReturned, m.State())
	assert.Nil(t, m.Dialog())
	assert.Same(t, displayed, m.Slot(), "a later open must be instant again")

	loader.mu.Lock()
	assert.Equal(t, 1, loader.teardowns)
	loader.mu.Unlock()

	// The pooled instance is reusable without another load.
	calls := loaderCalls(loader)
	require.NoError(t, m.Open(ctx))
	assert.Equal(t, calls, loaderCalls(loader))
}

func TestOpen_EmptySlotLoadsDirectly(t *testing.T) {
	loader := newFakeLoader(3)
	m := NewManager(loader, nil, capture.Options{}, testConfig())

	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, StateDisplayed, m.State())
	require.NotNil(t, m.Dialog())
	assert.False(t, m.UsingFallback())
	assert.Equal(t, 3, loaderCalls(loader))
}

func TestOpen_FallbackOnExhaustion(t *testing.T) {
	m := NewManager(newFakeLoader(-1), nil, capture.Options{}, testConfig())

	require.NoError(t, m.Open(context.Background()), "degraded mode is not an error")
	assert.Equal(t, StateDisplayed, m.State())
	assert.True(t, m.UsingFallback())

	dialog := m.Dialog()
	require.NotNil(t, dialog)
	assert.Contains(t, dialog.Markup, "(972) 555-0143")
	assert.Contains(t, dialog.Markup, "https://calendly.com/meridian-keys/showroom")

	// Fallback markup is not a pooled embed; closing discards it.
	m.Close()
	assert.Nil(t, m.Slot())
}

func TestOpen_AlreadyDisplayed(t *testing.T) {
	m := NewManager(newFakeLoader(1), nil, capture.Options{}, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Open(ctx))
	assert.Error(t, m.Open(ctx))
}

func TestPreloadFailure_LeavesUnloaded(t *testing.T) {
	m := NewManager(newFakeLoader(-1), nil, capture.Options{}, testConfig())

	err := m.Preload(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnloaded, m.State())
	assert.Nil(t, m.Slot())
}

func TestEmbedEvents_RecapturedThroughFacade(t *testing.T) {
	client := &countingClient{}
	facade := capture.New(client, nil, nil, 10)
	loader := newFakeLoader(1)
	m := NewManager(loader, facade, capture.Options{DistinctID: "v"}, testConfig())

	require.NoError(t, m.Preload(context.Background()))

	loader.events <- Event{Name: "calendly.event_scheduled", Payload: map[string]any{"uri": "evt-1"}}
	loader.events <- Event{Name: "calendly.invitee_scheduled", Payload: nil}
	// Unrecognized suffix and wrong prefix are both ignored.
	loader.events <- Event{Name: "calendly.page_height", Payload: nil}
	loader.events <- Event{Name: "stripe.checkout_complete", Payload: nil}

	require.Eventually(t, func() bool {
		return facade.Stats().ByEvent["calendly_event_scheduled"] == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, facade.Stats().Total, "unrecognized events are ignored")

	rec := facade.Recent(2)
	require.Len(t, rec, 2)
	assert.Equal(t, "calendly.invitee_scheduled", rec[0].Properties["embed_event"])
}

func TestReopen_RestoresEventSubscription(t *testing.T) {
	client := &countingClient{}
	facade := capture.New(client, nil, nil, 10)
	loader := newFakeLoader(1)
	m := NewManager(loader, facade, capture.Options{DistinctID: "v"}, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Preload(ctx))
	require.NoError(t, m.Open(ctx))
	m.Close()

	// Second open borrows the pooled instance again; scheduling events from
	// that session must still reach analytics.
	require.NoError(t, m.Open(ctx))
	loader.events <- Event{Name: "calendly.event_scheduled", Payload: map[string]any{"uri": "evt-2"}}

	require.Eventually(t, func() bool {
		return facade.Stats().ByEvent["calendly_event_scheduled"] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClose_StopsEventSubscription(t *testing.T) {
	client := &countingClient{}
	facade := capture.New(client, nil, nil, 10)
	loader := newFakeLoader(1)
	m := NewManager(loader, facade, capture.Options{}, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Preload(ctx))
	require.NoError(t, m.Open(ctx))
	m.Close()

	loader.events <- Event{Name: "calendly.event_scheduled", Payload: nil}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, facade.Stats().Total)
}

func loaderCalls(l *fakeLoader) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// countingClient satisfies posthog.Client for facade wiring.
type countingClient struct{}

func (countingClient) Capture(ctx context.Context, ev posthog.Event) error { return nil }
func (countingClient) Enqueue(ev posthog.Event)                            {}
func (countingClient) Flush(ctx context.Context) error                     { return nil }
func (countingClient) Enabled() bool                                       { return true }
