package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"voicebridge/internal/util"
	"voicebridge/pkg/ai"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
	"voicebridge/pkg/outgoing"
	"voicebridge/pkg/store"
)

const (
	defaultAudioMimeType     = "audio/m4a"
	defaultEventConcurrency  = 8
	defaultBackgroundTimeout = 10 * time.Second
	loadingSeconds           = 20
	notifyTimeout            = 10 * time.Second
)

// Messenger is the subset of the messaging API the bot talks to.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, messages []line.Message) error
	Push(ctx context.Context, userID string, messages []line.Message) error
	Content(ctx context.Context, messageID string) ([]byte, error)
	StartLoading(ctx context.Context, chatID string, seconds int) error
}

// Forwarder delivers summaries to a user's external webhook.
type Forwarder interface {
	Forward(ctx context.Context, target domain.WebhookTarget, payload outgoing.Payload) error
}

// Config holds runtime configuration for the bot.
type Config struct {
	Store      store.Store
	State      store.StateStore
	Messenger  Messenger
	Summarizer ai.Summarizer
	Forwarder  Forwarder

	AudioMimeType     string
	EventConcurrency  int
	BackgroundTimeout time.Duration

	// OnBackgroundError observes failures of fire-and-forget tasks.
	OnBackgroundError func(task string, err error)
	Now               func() time.Time
	NewSessionID      func() string
}

// App routes platform events through the conversation flows.
type App struct {
	store      store.Store
	state      store.StateStore
	messenger  Messenger
	summarizer ai.Summarizer
	forwarder  Forwarder

	audioMimeType     string
	eventConcurrency  int
	backgroundTimeout time.Duration
	onBackgroundError func(task string, err error)
	now               func() time.Time
	newSessionID      func() string

	wg sync.WaitGroup
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("state store required")
	}
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("messenger required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("summarizer required")
	}
	mimeType := strings.TrimSpace(cfg.AudioMimeType)
	if mimeType == "" {
		mimeType = defaultAudioMimeType
	}
	concurrency := cfg.EventConcurrency
	if concurrency <= 0 {
		concurrency = defaultEventConcurrency
	}
	bgTimeout := cfg.BackgroundTimeout
	if bgTimeout <= 0 {
		bgTimeout = defaultBackgroundTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newSessionID := cfg.NewSessionID
	if newSessionID == nil {
		newSessionID = uuid.NewString
	}
	return &App{
		store:             cfg.Store,
		state:             cfg.State,
		messenger:         cfg.Messenger,
		summarizer:        cfg.Summarizer,
		forwarder:         cfg.Forwarder,
		audioMimeType:     mimeType,
		eventConcurrency:  concurrency,
		backgroundTimeout: bgTimeout,
		onBackgroundError: cfg.OnBackgroundError,
		now:               now,
		newSessionID:      newSessionID,
	}, nil
}

// Dispatch hands a batch to background processing and returns immediately.
// Events run concurrently; a failing event never affects its siblings.
func (a *App) Dispatch(ctx context.Context, events []line.Event) {
	if len(events) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		var g errgroup.Group
		g.SetLimit(a.eventConcurrency)
		for _, ev := range events {
			ev := ev
			g.Go(func() error {
				a.processEvent(base, ev)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until dispatched events and detached tasks have finished.
func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) processEvent(ctx context.Context, ev line.Event) {
	logger := util.LoggerFromContext(ctx).With(
		"user_id", ev.UserID(),
		"event_type", ev.Type,
		"webhook_event_id", ev.WebhookEventID,
	)
	ctx = util.ContextWithLogger(ctx, logger)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				logger.Error("webhook_event_panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		return a.HandleEvent(ctx, ev)
	}()
	if err == nil {
		return
	}
	logger.Error("webhook_event_failed", "err", err)

	userID := ev.UserID()
	if userID == "" {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if pushErr := a.messenger.Push(notifyCtx, userID, []line.Message{line.NewText(systemErrorText(err))}); pushErr != nil {
		logger.Warn("error_notification_failed", "err", pushErr)
	}
}

// HandleEvent runs one event to completion and sends at most one reply.
func (a *App) HandleEvent(ctx context.Context, ev line.Event) error {
	userID := ev.UserID()
	var snap Snapshot
	if !isLifecycle(ev) && userID != "" {
		var err error
		snap, err = a.snapshot(ctx, userID)
		if err != nil {
			return err
		}
	}
	decision := Resolve(ev, snap)
	logger := util.LoggerFromContext(ctx).With("flow", decision.Flow.String())
	ctx = util.ContextWithLogger(ctx, logger)
	logger.Debug("webhook_event_routed", "setup_state", string(snap.SetupState), "integration", string(snap.Integration))

	var (
		msgs []line.Message
		err  error
	)
	switch decision.Flow {
	case FlowFollow:
		msgs = initialSetupMessages()
	case FlowUnfollow:
		err = a.unfollow(ctx, userID)
	case FlowOnboarding:
		msgs, err = a.onboarding(ctx, ev, decision.SetupState)
	case FlowPromptInput:
		msgs, err = a.promptInput(ctx, userID, ev.Message.Text)
	case FlowCommand:
		msgs, err = a.command(ctx, userID, ev.Message.Text)
	case FlowSummarize:
		msgs, err = a.summarize(ctx, userID, ev.Message.ID)
	case FlowPostback:
		msgs, err = a.postback(ctx, ev)
	}
	if err != nil {
		return err
	}
	return a.reply(ctx, ev.ReplyToken, msgs)
}

func (a *App) reply(ctx context.Context, replyToken string, msgs []line.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if strings.TrimSpace(replyToken) == "" {
		util.LoggerFromContext(ctx).Warn("reply_skipped_without_token", "messages", len(msgs))
		return nil
	}
	if err := a.messenger.Reply(ctx, replyToken, msgs); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func (a *App) snapshot(ctx context.Context, userID string) (Snapshot, error) {
	integration, err := a.IntegrationType(userID)
	if err != nil {
		return Snapshot{}, err
	}
	_, hasSettings, err := a.store.GetSettings(userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	setup, _, err := a.state.Get(ctx, setupStateKey(userID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load setup state: %w", err)
	}
	_, promptPending, err := a.state.Get(ctx, promptStateKey(userID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load prompt state: %w", err)
	}
	return Snapshot{
		Integration:   integration,
		HasSettings:   hasSettings,
		SetupState:    domain.SetupState(setup),
		PromptPending: promptPending,
	}, nil
}

// IntegrationType resolves the user's save destination. A public key wins over a webhook.
func (a *App) IntegrationType(userID string) (domain.IntegrationType, error) {
	_, hasKey, err := a.store.GetPublicKey(userID)
	if err != nil {
		return "", fmt.Errorf("load public key: %w", err)
	}
	if hasKey {
		return domain.IntegrationObsidian, nil
	}
	target, hasWebhook, err := a.store.GetWebhookTarget(userID)
	if err != nil {
		return "", fmt.Errorf("load webhook target: %w", err)
	}
	if hasWebhook && target.URL != "" {
		return domain.IntegrationWebhook, nil
	}
	return domain.IntegrationNone, nil
}

// settings returns the stored settings or the defaults.
func (a *App) settings(userID string) (domain.UserSettings, error) {
	s, ok, err := a.store.GetSettings(userID)
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return domain.DefaultSettings(), nil
	}
	return s, nil
}

// detach runs fn in the background. Its failure is logged and reported, never returned.
func (a *App) detach(ctx context.Context, task string, fn func(ctx context.Context) error) {
	logger := util.LoggerFromContext(ctx)
	base := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		taskCtx, cancel := context.WithTimeout(base, a.backgroundTimeout)
		defer cancel()
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return fn(taskCtx)
		}()
		if err == nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out: %w", task, err)
		}
		logger.Warn("background_task_failed", "task", task, "err", err)
		if a.onBackgroundError != nil {
			a.onBackgroundError(task, err)
		}
	}()
}
