// Package posthog is a thin client for the PostHog event capture API.
package posthog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-keys/campaign-tracker/internal/resilience"
)

const defaultHost = "https://us.i.posthog.com"

// Event is a single analytics event.
type Event struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Client sends events to PostHog.
type Client interface {
	// Capture sends a single event immediately.
	Capture(ctx context.Context, ev Event) error

	// Enqueue buffers an event for the next Flush.
	Enqueue(ev Event)

	// Flush synchronously drains the buffered queue in one batch request.
	// Required on server-side paths where the request lifecycle may end
	// right after the response is written.
	Flush(ctx context.Context) error

	// Enabled reports whether the client will actually forward events.
	Enabled() bool
}

// Option configures the client.
type Option func(*httpClient)

// WithHost overrides the default PostHog host.
func WithHost(host string) Option {
	return func(c *httpClient) {
		c.host = host
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey string
	host   string
	http   *http.Client

	mu    sync.Mutex
	queue []Event
}

// NewClient creates a PostHog client. An empty API key returns a disabled
// client whose operations are recorded no-ops.
func NewClient(apiKey string, opts ...Option) Client {
	if apiKey == "" {
		return disabledClient{}
	}

	c := &httpClient{
		apiKey: apiKey,
		host:   defaultHost,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type captureRequest struct {
	APIKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

type batchRequest struct {
	APIKey string         `json:"api_key"`
	Batch  []batchElement `json:"batch"`
}

type batchElement struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

func (c *httpClient) Enabled() bool { return true }

func (c *httpClient) Capture(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body := captureRequest{
		APIKey:     c.apiKey,
		Event:      ev.Event,
		DistinctID: ev.DistinctID,
		Properties: ev.Properties,
		Timestamp:  ev.Timestamp.Format(time.RFC3339),
	}
	return c.post(ctx, "/capture/", body)
}

func (c *httpClient) Enqueue(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
}

func (c *httpClient) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	body := batchRequest{APIKey: c.apiKey}
	for _, ev := range pending {
		body.Batch = append(body.Batch, batchElement{
			Event:      ev.Event,
			DistinctID: ev.DistinctID,
			Properties: ev.Properties,
			Timestamp:  ev.Timestamp.Format(time.RFC3339),
		})
	}

	if err := c.post(ctx, "/batch/", body); err != nil {
		// Requeue so a later flush can retry; duplicates are acceptable,
		// silent loss is not.
		c.mu.Lock()
		c.queue = append(pending, c.queue...)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "posthog: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(raw))
	if err != nil {
		return eris.Wrap(err, "posthog: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "posthog: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := eris.New(fmt.Sprintf("posthog: %s returned %d: %s", path, resp.StatusCode, snippet))
		// Throttling and server-side failures are worth another attempt;
		// anything else (bad key, malformed payload) is not.
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}
	return nil
}

// disabledClient is used when no API key is configured.
type disabledClient struct{}

func (disabledClient) Capture(ctx context.Context, ev Event) error { return nil }
func (disabledClient) Enqueue(ev Event)                            {}
func (disabledClient) Flush(ctx context.Context) error             { return nil }
func (disabledClient) Enabled() bool                               { return false }
