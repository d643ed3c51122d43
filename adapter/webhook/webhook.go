// Package webhook POSTs session lifecycle events to an HTTP endpoint.
//
// Bodies are the JSON form of adapter.SessionEvent. The event type, dataset
// and gateway session id also travel as headers so receivers can route
// without parsing. With a secret configured, each body carries an
// HMAC-SHA256 signature in SignatureHeader.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/livefeed/adapter"
	"github.com/justapithecus/livefeed/iox"
	"github.com/justapithecus/livefeed/types"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// Request headers set on every delivery.
const (
	EventHeader     = "X-Livefeed-Event"
	DatasetHeader   = "X-Livefeed-Dataset"
	SessionHeader   = "X-Livefeed-Session"
	SignatureHeader = "X-Livefeed-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	URL     string            // endpoint; required
	Headers map[string]string // added to every request, after the livefeed headers
	Secret  string            // HMAC key; empty disables signing
	Timeout time.Duration     // per request; default DefaultTimeout
	Retries int               // attempts after the first
}

// Adapter delivers session events by HTTP POST.
type Adapter struct {
	url     string
	headers map[string]string
	secret  []byte
	retries int
	client  *http.Client
}

// New validates cfg and returns an adapter.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &Adapter{
		url:     cfg.URL,
		headers: cfg.Headers,
		retries: cfg.Retries,
		client:  &http.Client{Timeout: timeout},
	}
	if cfg.Secret != "" {
		a.secret = []byte(cfg.Secret)
	}
	return a, nil
}

// Publish delivers event. Server errors and transport failures are retried;
// a 4xx reply fails at once since resending the same body cannot fix it.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "webhook", a.retries, func(ctx context.Context) error {
		return a.deliver(ctx, event, body)
	}, isClientError)
}

// StatusError reports a non-2xx reply.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func isClientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

// Sign returns the SignatureHeader value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) deliver(ctx context.Context, event *adapter.SessionEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", types.ClientID())
	h.Set(EventHeader, event.EventType)
	h.Set(DatasetHeader, event.Dataset)
	if event.SessionID != "" {
		h.Set(SessionHeader, event.SessionID)
	}
	if a.secret != nil {
		h.Set(SignatureHeader, Sign(a.secret, body))
	}
	for k, v := range a.headers {
		h.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
