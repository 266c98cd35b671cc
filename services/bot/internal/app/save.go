package app

import (
	"context"
	"fmt"

	"voicebridge/internal/util"
	"voicebridge/pkg/domain"
	"voicebridge/pkg/envelope"
	"voicebridge/pkg/line"
	"voicebridge/pkg/outgoing"
)

// save delivers a summary to every configured destination.
// The webhook forward runs detached; the encrypted inbox write is part of the flow.
func (a *App) save(ctx context.Context, userID, summary string) ([]line.Message, error) {
	target, hasWebhook, err := a.store.GetWebhookTarget(userID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("webhook_target_lookup_failed", "err", err)
		hasWebhook = false
	}
	hasWebhook = hasWebhook && target.URL != ""
	if hasWebhook && a.forwarder != nil {
		payload := outgoing.NewPayload(userID, summary, a.now())
		a.detach(ctx, "webhook_forward", func(ctx context.Context) error {
			return a.forwarder.Forward(ctx, target, payload)
		})
	}

	publicKey, hasKey, err := a.store.GetPublicKey(userID)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	if hasKey {
		sealed, err := envelope.Seal(summary, publicKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt summary: %w", err)
		}
		if _, err := a.store.AppendInbox(domain.InboxItem{
			UserID:        userID,
			EncryptedData: sealed.Data,
			IV:            sealed.IV,
			EncryptedKey:  sealed.Key,
			CreatedAt:     a.now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("append inbox: %w", err)
		}
		return []line.Message{line.NewText(msgSavedToInbox)}, nil
	}
	if hasWebhook {
		return []line.Message{line.NewText(msgSentToWebhook)}, nil
	}
	return []line.Message{line.NewText(msgNoDestination)}, nil
}
