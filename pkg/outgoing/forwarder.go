// Package outgoing delivers generated summaries to user-configured webhooks.
package outgoing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"voicebridge/pkg/domain"
)

const (
	EventSummaryGenerated = "summary_generated"
	SignatureHeader       = "X-Voicebridge-Signature"
	userAgent             = "voicebridge/1.0"
)

// Payload is the JSON body posted to a webhook target.
type Payload struct {
	Event     string `json:"event"`
	UserID    string `json:"userId"`
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
}

// NewPayload stamps a summary_generated payload with the current time in ms.
func NewPayload(userID, summary string, now time.Time) Payload {
	return Payload{
		Event:     EventSummaryGenerated,
		UserID:    userID,
		Summary:   summary,
		Timestamp: now.UnixMilli(),
	}
}

// BreakerSettings controls the per-host circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Forwarder posts payloads to webhooks, isolating each target host behind its own breaker.
type Forwarder struct {
	httpClient *http.Client
	settings   BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewForwarder builds a forwarder. Zero settings use 5 failures / 60s.
func NewForwarder(timeout time.Duration, settings BreakerSettings) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 60 * time.Second
	}
	return &Forwarder{
		httpClient: &http.Client{Timeout: timeout},
		settings:   settings,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (f *Forwarder) breaker(host string) *gobreaker.CircuitBreaker[struct{}] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[host]; ok {
		return cb
	}
	threshold := f.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     f.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("webhook_breaker_state_changed", "host", name, "from", from.String(), "to", to.String())
		},
	})
	f.breakers[host] = cb
	return cb
}

// Forward posts payload to target. Open circuits return gobreaker.ErrOpenState.
func (f *Forwarder) Forward(ctx context.Context, target domain.WebhookTarget, payload Payload) error {
	u, err := url.Parse(target.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", target.URL)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = f.breaker(u.Host).Execute(func() (struct{}, error) {
		return struct{}{}, f.post(ctx, target, body)
	})
	return err
}

func (f *Forwarder) post(ctx context.Context, target domain.WebhookTarget, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if target.SecretToken != "" {
		req.Header.Set(SignatureHeader, Sign(body, target.SecretToken))
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// Sign returns base64(HMAC-SHA256(secret, body)) so receivers can verify the sender.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
