package app

import (
	"context"
	"errors"
	"fmt"

	"voicebridge/internal/util"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

func (a *App) postback(ctx context.Context, ev line.Event) ([]line.Message, error) {
	userID := ev.UserID()
	values := ev.PostbackValues()
	switch action := values.Get("action"); action {
	case "save":
		return a.saveSession(ctx, userID, values.Get("session_id"))
	case "discard":
		return a.discardSession(ctx, values.Get("session_id"))
	case "set_mode":
		return a.setMode(ctx, userID, domain.PromptMode(values.Get("mode")))
	default:
		util.LoggerFromContext(ctx).Info("postback_ignored", "action", action)
		return nil, nil
	}
}

// saveSession consumes the pending summary before saving, so a double tap
// saves once. A failed save puts the summary back for another try.
func (a *App) saveSession(ctx context.Context, userID, sessionID string) ([]line.Message, error) {
	summary, err := a.takeSession(ctx, sessionID)
	if err != nil {
		return expiredOr(err)
	}
	msgs, err := a.save(ctx, userID, summary)
	if err != nil {
		if restoreErr := a.state.Set(ctx, sessionKey(sessionID), summary, pendingSummaryTTL); restoreErr != nil {
			util.LoggerFromContext(ctx).Warn("session_restore_failed", "session_id", sessionID, "err", restoreErr)
		}
		return nil, err
	}
	return msgs, nil
}

func (a *App) discardSession(ctx context.Context, sessionID string) ([]line.Message, error) {
	if _, err := a.takeSession(ctx, sessionID); err != nil {
		return expiredOr(err)
	}
	return []line.Message{line.NewText(msgDiscarded)}, nil
}

// takeSession removes and returns a pending summary.
func (a *App) takeSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionExpired
	}
	summary, ok, err := a.state.Take(ctx, sessionKey(sessionID))
	if err != nil {
		return "", fmt.Errorf("take session: %w", err)
	}
	if !ok {
		return "", ErrSessionExpired
	}
	return summary, nil
}

func expiredOr(err error) ([]line.Message, error) {
	if errors.Is(err, ErrSessionExpired) {
		return []line.Message{line.NewText(msgSessionExpired)}, nil
	}
	return nil, err
}

func (a *App) setMode(ctx context.Context, userID string, mode domain.PromptMode) ([]line.Message, error) {
	_, open, err := a.state.Get(ctx, promptStateKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load prompt state: %w", err)
	}
	if !open {
		return []line.Message{line.NewText(msgSelectionExpired)}, nil
	}
	details, ok := domain.LookupMode(mode)
	if !ok {
		util.LoggerFromContext(ctx).Info("set_mode_ignored", "mode", string(mode))
		return nil, nil
	}
	settings, err := a.settings(userID)
	if err != nil {
		return nil, err
	}
	settings.PromptMode = mode
	if err := a.store.SaveSettings(userID, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	if err := a.state.Delete(ctx, promptStateKey(userID)); err != nil {
		return nil, fmt.Errorf("clear prompt state: %w", err)
	}
	return []line.Message{setupCompleteMessage(fmt.Sprintf("Mode set to \"%s\"", details.Label), msgReadyToThink)}, nil
}
