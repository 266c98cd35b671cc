package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
	"voicebridge/pkg/outgoing"
	"voicebridge/pkg/store"
)

type pushCall struct {
	userID string
	msgs   []line.Message
}

type fakeMessenger struct {
	mu        sync.Mutex
	replies   map[string][]line.Message
	pushes    []pushCall
	loading   []string
	content   map[string][]byte
	pushErr   error
	replyErr  error
	loadErr   error
	failFetch bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		replies: make(map[string][]line.Message),
		content: make(map[string][]byte),
	}
}

func (f *fakeMessenger) Reply(_ context.Context, token string, msgs []line.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	if _, used := f.replies[token]; used {
		return &line.APIError{Status: 400, Message: "Invalid reply token"}
	}
	if len(msgs) > line.MaxReplyMessages {
		return line.ErrTooManyMessages
	}
	f.replies[token] = msgs
	return nil
}

func (f *fakeMessenger) Push(_ context.Context, userID string, msgs []line.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushCall{userID: userID, msgs: msgs})
	return f.pushErr
}

func (f *fakeMessenger) Content(_ context.Context, messageID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return nil, &line.APIError{Status: 404, Message: "Not found"}
	}
	data, ok := f.content[messageID]
	if !ok {
		data = []byte("audio:" + messageID)
	}
	return data, nil
}

func (f *fakeMessenger) StartLoading(_ context.Context, chatID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = append(f.loading, chatID)
	return f.loadErr
}

func (f *fakeMessenger) reply(token string) ([]line.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.replies[token]
	return msgs, ok
}

func (f *fakeMessenger) pushCalls() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.pushes...)
}

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	text    string
	err     error
	panicOn string
}

func (f *fakeSummarizer) Summarize(_ context.Context, audio []byte, mimeType, systemPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, systemPrompt)
	if f.panicOn != "" && string(audio) == f.panicOn {
		panic("summarizer exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	if mimeType != "audio/m4a" {
		return "", fmt.Errorf("unexpected mime type %q", mimeType)
	}
	return f.text, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []outgoing.Payload
	urls  []string
	err   error
}

func (f *fakeForwarder) Forward(_ context.Context, target domain.WebhookTarget, payload outgoing.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload)
	f.urls = append(f.urls, target.URL)
	return f.err
}

type harness struct {
	app   *App
	store *store.MemoryStore
	state *store.RedisStateStore
	redis *miniredis.Miniredis
	msg   *fakeMessenger
	sum   *fakeSummarizer
	fwd   *fakeForwarder

	mu     sync.Mutex
	bgErrs []string
	nextID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	h := &harness{
		store: store.NewMemoryStore(),
		state: store.NewRedisStateStore(mr.Addr(), "", "test"),
		redis: mr,
		msg:   newFakeMessenger(),
		sum:   &fakeSummarizer{text: "- buy milk"},
		fwd:   &fakeForwarder{},
	}
	app, err := New(Config{
		Store:      h.store,
		State:      h.state,
		Messenger:  h.msg,
		Summarizer: h.sum,
		Forwarder:  h.fwd,
		OnBackgroundError: func(task string, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.bgErrs = append(h.bgErrs, task)
		},
		Now: func() time.Time { return time.UnixMilli(1700000000000) },
		NewSessionID: func() string {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.nextID++
			return fmt.Sprintf("sess-%d", h.nextID)
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h.app = app
	return h
}

// handle runs one event and drains its detached tasks.
func (h *harness) handle(t *testing.T, ev line.Event) {
	t.Helper()
	err := h.app.HandleEvent(context.Background(), ev)
	h.app.Wait()
	if err != nil {
		t.Fatalf("handle %s event: %v", ev.Type, err)
	}
}

func (h *harness) backgroundErrors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.bgErrs...)
}

// replyJSON returns the reply sent for token as JSON, failing when none was sent.
func (h *harness) replyJSON(t *testing.T, token string) string {
	t.Helper()
	msgs, ok := h.msg.reply(token)
	if !ok {
		t.Fatalf("no reply sent for token %s", token)
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return string(data)
}

func (h *harness) expectReply(t *testing.T, token string, wants ...string) {
	t.Helper()
	got := h.replyJSON(t, token)
	for _, want := range wants {
		wantJSON, _ := json.Marshal(want)
		escaped := strings.TrimSuffix(strings.TrimPrefix(string(wantJSON), `"`), `"`)
		if !strings.Contains(got, want) && !strings.Contains(got, escaped) {
			t.Fatalf("reply %s missing %q\n%s", token, want, got)
		}
	}
}

func (h *harness) expectNoReply(t *testing.T, token string) {
	t.Helper()
	if msgs, ok := h.msg.reply(token); ok {
		t.Fatalf("unexpected reply for %s: %+v", token, msgs)
	}
}

func (h *harness) stateValue(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := h.state.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("state get %s: %v", key, err)
	}
	return v, ok
}

// completeSetup gives userID a settings row, which finishes onboarding.
func (h *harness) completeSetup(t *testing.T, userID string, settings domain.UserSettings) {
	t.Helper()
	if err := h.store.SaveSettings(userID, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
}

func userSource(userID string) line.Source {
	return line.Source{Type: "user", UserID: userID}
}

func followEvent(userID, token string) line.Event {
	return line.Event{Type: line.EventFollow, ReplyToken: token, Source: userSource(userID)}
}

func unfollowEvent(userID string) line.Event {
	return line.Event{Type: line.EventUnfollow, Source: userSource(userID)}
}

func textEvent(userID, token, text string) line.Event {
	return line.Event{
		Type:       line.EventMessage,
		ReplyToken: token,
		Source:     userSource(userID),
		Message:    &line.MessageContent{ID: "msg-" + token, Type: line.MessageText, Text: text},
	}
}

func audioEvent(userID, token, messageID string) line.Event {
	return line.Event{
		Type:       line.EventMessage,
		ReplyToken: token,
		Source:     userSource(userID),
		Message:    &line.MessageContent{ID: messageID, Type: line.MessageAudio},
	}
}

func postbackEvent(userID, token, data string) line.Event {
	return line.Event{
		Type:       line.EventPostback,
		ReplyToken: token,
		Source:     userSource(userID),
		Postback:   &line.Postback{Data: data},
	}
}

func newKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

var errUpstream = errors.New("upstream unavailable")
