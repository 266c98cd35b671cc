package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"voicebridge/internal/ratelimit"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
	"voicebridge/pkg/store"
	"voicebridge/services/bot/internal/app"
)

const testSecret = "channel-secret"

type recordingMessenger struct {
	mu      sync.Mutex
	replies map[string][]line.Message
}

func (m *recordingMessenger) Reply(_ context.Context, token string, msgs []line.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replies == nil {
		m.replies = make(map[string][]line.Message)
	}
	m.replies[token] = msgs
	return nil
}

func (m *recordingMessenger) Push(context.Context, string, []line.Message) error { return nil }

func (m *recordingMessenger) Content(context.Context, string) ([]byte, error) { return nil, nil }

func (m *recordingMessenger) StartLoading(context.Context, string, int) error { return nil }

func (m *recordingMessenger) replyCount(token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies[token])
}

type staticSummarizer struct{}

func (staticSummarizer) Summarize(context.Context, []byte, string, string) (string, error) {
	return "- summary", nil
}

type harness struct {
	app       *app.App
	store     *store.MemoryStore
	messenger *recordingMessenger
	srv       *httptest.Server
}

func newHarness(t *testing.T, limiter *ratelimit.FixedWindowLimiter) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	state := store.NewRedisStateStore(mr.Addr(), "", "test")
	t.Cleanup(func() { _ = state.Close() })

	h := &harness{store: store.NewMemoryStore(), messenger: &recordingMessenger{}}
	a, err := app.New(app.Config{
		Store:      h.store,
		State:      state,
		Messenger:  h.messenger,
		Summarizer: staticSummarizer{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h.app = a
	s, err := New(Config{App: a, ChannelSecret: testSecret, Limiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h.srv = httptest.NewServer(s.Router())
	t.Cleanup(h.srv.Close)
	return h
}

func postWebhook(t *testing.T, url string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/webhook", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if signature != "" {
		req.Header.Set(line.SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request: %v", err)
	}
	resp.Body.Close()
	return resp
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestWebhookRejections(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.srv.URL + "/webhook")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET expected 405, got %d", resp.StatusCode)
	}

	body := []byte(`{"events":[]}`)
	if resp := postWebhook(t, h.srv.URL, body, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing signature expected 401, got %d", resp.StatusCode)
	}
	if resp := postWebhook(t, h.srv.URL, body, line.Sign(body, "other-secret")); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bad signature expected 403, got %d", resp.StatusCode)
	}
	garbage := []byte(`not json`)
	if resp := postWebhook(t, h.srv.URL, garbage, line.Sign(garbage, testSecret)); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unparseable body expected 500, got %d", resp.StatusCode)
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	h := newHarness(t, nil)
	padding := strings.Repeat("x", maxWebhookBodyBytes)
	body := []byte(`{"destination":"` + padding + `","events":[]}`)

	resp := postWebhook(t, h.srv.URL, body, line.Sign(body, testSecret))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized signed body expected 413, got %d", resp.StatusCode)
	}

	atLimit := []byte(`{"events":[]}` + strings.Repeat(" ", maxWebhookBodyBytes-len(`{"events":[]}`)))
	if resp := postWebhook(t, h.srv.URL, atLimit, line.Sign(atLimit, testSecret)); resp.StatusCode != http.StatusOK {
		t.Fatalf("body at the limit expected 200, got %d", resp.StatusCode)
	}
}

func TestWebhookAcceptsAndDispatches(t *testing.T) {
	h := newHarness(t, nil)
	body := []byte(`{"destination":"bot","events":[{"type":"follow","mode":"active","timestamp":1700000000000,"webhookEventId":"ev-1","replyToken":"rt-1","source":{"type":"user","userId":"U1"}}]}`)

	resp := postWebhook(t, h.srv.URL, body, line.Sign(body, testSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	h.app.Wait()
	if h.messenger.replyCount("rt-1") == 0 {
		t.Fatalf("follow event should produce a reply")
	}
}

func TestRegistrationFlow(t *testing.T) {
	h := newHarness(t, nil)

	resp := postJSON(t, h.srv.URL+"/api/register", map[string]string{"vaultId": "vault-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("register without user expected 400, got %d", resp.StatusCode)
	}
	resp = postJSON(t, h.srv.URL+"/api/register", map[string]string{"lineUserId": "U1", "vaultId": "vault-1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register expected 200, got %d", resp.StatusCode)
	}
	if settings, ok, _ := h.store.GetSettings("U1"); !ok || settings != domain.DefaultSettings() {
		t.Fatalf("register should create default settings, got %+v ok=%v", settings, ok)
	}

	der := mustPublicKeyDER(t)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	resp = postJSON(t, h.srv.URL+"/api/keys", map[string]string{"vaultId": "missing", "publicKeyPem": pemText})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown vault expected 401, got %d", resp.StatusCode)
	}
	resp = postJSON(t, h.srv.URL+"/api/keys", map[string]string{"vaultId": "vault-1", "publicKeyPem": "garbage"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid pem expected 400, got %d", resp.StatusCode)
	}
	resp = postJSON(t, h.srv.URL+"/api/keys", map[string]string{"vaultId": "vault-1", "publicKeyPem": pemText})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save key expected 200, got %d", resp.StatusCode)
	}
	if integration, err := h.app.IntegrationType("U1"); err != nil || integration != domain.IntegrationObsidian {
		t.Fatalf("integration = %q err=%v", integration, err)
	}
}

func TestInboxPull(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.LinkVault("vault-1", "U1"); err != nil {
		t.Fatalf("link vault: %v", err)
	}
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := h.store.AppendInbox(domain.InboxItem{UserID: "U1", EncryptedData: "data", IV: "iv", EncryptedKey: "key", CreatedAt: created}); err != nil {
		t.Fatalf("append: %v", err)
	}

	cases := []struct {
		query  string
		status int
	}{
		{query: "", status: http.StatusBadRequest},
		{query: "?vaultId=nope", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp, err := http.Get(h.srv.URL + "/api/inbox" + tc.query)
		if err != nil {
			t.Fatalf("get inbox: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("inbox%s expected %d, got %d", tc.query, tc.status, resp.StatusCode)
		}
	}

	pull := func() []domain.InboxItem {
		resp, err := http.Get(h.srv.URL + "/api/inbox?vaultId=vault-1")
		if err != nil {
			t.Fatalf("get inbox: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("inbox expected 200, got %d", resp.StatusCode)
		}
		var out struct {
			Messages []domain.InboxItem `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode inbox: %v", err)
		}
		return out.Messages
	}
	first := pull()
	if len(first) != 1 || first[0].EncryptedData != "data" || first[0].UserID != "U1" {
		t.Fatalf("unexpected inbox: %+v", first)
	}
	if again := pull(); len(again) != 0 {
		t.Fatalf("inbox should be drained, got %d", len(again))
	}
}

func TestAPIRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:rl", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	h := newHarness(t, limiter)

	resp, err := http.Get(h.srv.URL + "/api/inbox?vaultId=nope")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp.StatusCode)
	}
	resp, err = http.Get(h.srv.URL + "/api/inbox?vaultId=nope")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// The webhook is not subject to the API quota.
	body := []byte(`{"events":[]}`)
	if resp := postWebhook(t, h.srv.URL, body, line.Sign(body, testSecret)); resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook expected 200, got %d", resp.StatusCode)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{App: &app.App{}}); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected secret error, got %v", err)
	}
}

func mustPublicKeyDER(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return der
}
