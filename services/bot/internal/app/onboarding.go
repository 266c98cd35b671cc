package app

import (
	"context"
	"fmt"
	"strings"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

// unfollow forgets the user in both stores. There is nobody left to reply to.
func (a *App) unfollow(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := a.store.DeleteUser(userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	sessions, err := a.pendingSessionKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("load pending sessions: %w", err)
	}
	keys := append([]string{setupStateKey(userID), promptStateKey(userID), userSessionsKey(userID)}, sessions...)
	if err := a.state.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func (a *App) onboarding(ctx context.Context, ev line.Event, setup domain.SetupState) ([]line.Message, error) {
	userID := ev.UserID()
	switch {
	case ev.Type == line.EventPostback && ev.Postback != nil:
		return a.onboardingAction(ctx, userID, ev.PostbackValues().Get("action"), setup)
	case ev.Type == line.EventMessage && ev.Message != nil && ev.Message.Type == line.MessageText:
		return a.onboardingText(ctx, userID, strings.TrimSpace(ev.Message.Text), setup)
	default:
		return []line.Message{line.NewText(msgSetupRequired)}, nil
	}
}

func (a *App) onboardingAction(ctx context.Context, userID, action string, setup domain.SetupState) ([]line.Message, error) {
	switch action {
	case "setup_obsidian":
		if err := a.setSetupState(ctx, userID, domain.SetupWaitingForObsidian); err != nil {
			return nil, err
		}
		return obsidianInstructionMessages(userID), nil
	case "setup_webhook":
		if err := a.setSetupState(ctx, userID, domain.SetupWaitingForWebhook); err != nil {
			return nil, err
		}
		return []line.Message{line.NewText(msgWebhookInstruction)}, nil
	case "setup_nothing":
		if err := a.state.Delete(ctx, setupStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear setup state: %w", err)
		}
		if err := a.store.DeletePublicKey(userID); err != nil {
			return nil, fmt.Errorf("delete public key: %w", err)
		}
		if err := a.store.DeleteWebhookTarget(userID); err != nil {
			return nil, fmt.Errorf("delete webhook target: %w", err)
		}
		if err := a.store.SaveSettings(userID, domain.DefaultSettings()); err != nil {
			return nil, fmt.Errorf("save settings: %w", err)
		}
		return a.askForModeSelection(ctx, userID, line.NewText(msgSetupNothing))
	default:
		return pickerFor(setup), nil
	}
}

func (a *App) onboardingText(ctx context.Context, userID, text string, setup domain.SetupState) ([]line.Message, error) {
	if setup != domain.SetupNone && matches(setupCancelKeywords, text) {
		if err := a.state.Delete(ctx, setupStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear setup state: %w", err)
		}
		return []line.Message{line.NewText(msgCancelled)}, nil
	}

	switch setup {
	case domain.SetupWaitingForObsidian:
		_, hasKey, err := a.store.GetPublicKey(userID)
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		if !hasKey {
			return []line.Message{line.NewText(msgSetupNotConfirmed)}, nil
		}
		if err := a.state.Delete(ctx, setupStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear setup state: %w", err)
		}
		return a.askForModeSelection(ctx, userID, line.NewText(msgObsidianLinked))
	case domain.SetupWaitingForWebhook:
		if !strings.HasPrefix(text, "https://") {
			return []line.Message{line.NewText(msgInvalidWebhookURL)}, nil
		}
		if err := a.store.SaveWebhookTarget(userID, domain.WebhookTarget{URL: text}); err != nil {
			return nil, fmt.Errorf("save webhook target: %w", err)
		}
		if err := a.state.Delete(ctx, setupStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear setup state: %w", err)
		}
		return a.askForModeSelection(ctx, userID, line.NewText(msgWebhookLinked))
	default:
		return pickerFor(setup), nil
	}
}

// askForModeSelection opens the mode picker; free text in the next 5 minutes becomes a custom prompt.
func (a *App) askForModeSelection(ctx context.Context, userID string, preamble ...line.Message) ([]line.Message, error) {
	if err := a.state.Set(ctx, promptStateKey(userID), promptStateWaiting, promptSettingTTL); err != nil {
		return nil, fmt.Errorf("set prompt state: %w", err)
	}
	msgs := append([]line.Message{}, preamble...)
	msgs = append(msgs, modeSelectionMessage(), line.NewText(msgCustomPromptHint))
	return msgs, nil
}

func (a *App) setSetupState(ctx context.Context, userID string, s domain.SetupState) error {
	if err := a.state.Set(ctx, setupStateKey(userID), string(s), setupTTL(s)); err != nil {
		return fmt.Errorf("set setup state: %w", err)
	}
	return nil
}

func pickerFor(setup domain.SetupState) []line.Message {
	if setup == domain.SetupChangingTarget {
		return changeTargetMessages()
	}
	return initialSetupMessages()
}
