package app

import (
	"context"
	"fmt"
	"strings"

	"voicebridge/internal/util"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

// summarize turns a voice message into a summary, then saves it or asks for confirmation.
func (a *App) summarize(ctx context.Context, userID, messageID string) ([]line.Message, error) {
	a.detach(ctx, "loading_indicator", func(ctx context.Context) error {
		return a.messenger.StartLoading(ctx, userID, loadingSeconds)
	})

	audio, err := a.messenger.Content(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	settings, err := a.settings(userID)
	if err != nil {
		return nil, err
	}
	mode := settings.EffectiveMode()
	summary, err := a.summarizer.Summarize(ctx, audio, a.audioMimeType, domain.SystemPrompt(mode, settings.CustomPrompt))
	if err != nil {
		return nil, fmt.Errorf("summarize audio: %w", err)
	}

	if !settings.ConfirmMode {
		return a.save(ctx, userID, summary)
	}

	sessionID := a.newSessionID()
	if err := a.state.Set(ctx, sessionKey(sessionID), summary, pendingSummaryTTL); err != nil {
		return nil, fmt.Errorf("store pending summary: %w", err)
	}
	a.indexSession(ctx, userID, sessionID)
	integration, err := a.IntegrationType(userID)
	if err != nil {
		return nil, err
	}
	return []line.Message{confirmationMessage(summary, sessionID, mode, integration)}, nil
}

// indexSession records sessionID under the user. The index lives as long as
// the newest session; a failed write only costs the unfollow cleanup.
func (a *App) indexSession(ctx context.Context, userID, sessionID string) {
	ids, _, err := a.state.Get(ctx, userSessionsKey(userID))
	if err == nil {
		if ids != "" {
			ids += ","
		}
		err = a.state.Set(ctx, userSessionsKey(userID), ids+sessionID, pendingSummaryTTL)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("session_index_failed", "session_id", sessionID, "err", err)
	}
}

// pendingSessionKeys lists the session keys indexed for userID.
func (a *App) pendingSessionKeys(ctx context.Context, userID string) ([]string, error) {
	ids, ok, err := a.state.Get(ctx, userSessionsKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var keys []string
	for _, id := range strings.Split(ids, ",") {
		if id != "" {
			keys = append(keys, sessionKey(id))
		}
	}
	return keys, nil
}
