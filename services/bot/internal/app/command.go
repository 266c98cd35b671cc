package app

import (
	"context"
	"fmt"
	"strings"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/line"
)

// promptInput handles text while a mode selection is open.
func (a *App) promptInput(ctx context.Context, userID, text string) ([]line.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case matches(promptKeepKeywords, text):
		if err := a.state.Delete(ctx, promptStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear prompt state: %w", err)
		}
		return []line.Message{line.NewText(msgPromptKept)}, nil
	case matches(promptCancelKeywords, text):
		if err := a.state.Delete(ctx, promptStateKey(userID)); err != nil {
			return nil, fmt.Errorf("clear prompt state: %w", err)
		}
		return []line.Message{line.NewText(msgCancelled)}, nil
	}

	settings, err := a.settings(userID)
	if err != nil {
		return nil, err
	}
	settings.PromptMode = domain.ModeCustom
	settings.CustomPrompt = text
	if err := a.store.SaveSettings(userID, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	if err := a.state.Delete(ctx, promptStateKey(userID)); err != nil {
		return nil, fmt.Errorf("clear prompt state: %w", err)
	}
	return []line.Message{
		setupCompleteMessage("Custom prompt saved", "Current prompt:\n"+truncate(text, customPromptEchoLen)),
	}, nil
}

func (a *App) command(ctx context.Context, userID, text string) ([]line.Message, error) {
	switch strings.TrimSpace(text) {
	case cmdConfirm, cmdConfirmAlias:
		return a.toggleConfirmMode(userID)
	case cmdPrompt:
		settings, err := a.settings(userID)
		if err != nil {
			return nil, err
		}
		return a.askForModeSelection(ctx, userID, line.NewText(promptStatusText(settings)))
	case cmdChange, cmdChangeAlias:
		if err := a.setSetupState(ctx, userID, domain.SetupChangingTarget); err != nil {
			return nil, err
		}
		return changeTargetMessages(), nil
	default:
		return a.status(userID)
	}
}

func (a *App) toggleConfirmMode(userID string) ([]line.Message, error) {
	settings, err := a.settings(userID)
	if err != nil {
		return nil, err
	}
	settings.ConfirmMode = !settings.ConfirmMode
	if err := a.store.SaveSettings(userID, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return []line.Message{line.NewText(confirmModeChangedText(settings.ConfirmMode))}, nil
}

func (a *App) status(userID string) ([]line.Message, error) {
	settings, err := a.settings(userID)
	if err != nil {
		return nil, err
	}
	_, hasKey, err := a.store.GetPublicKey(userID)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	target, hasWebhook, err := a.store.GetWebhookTarget(userID)
	if err != nil {
		return nil, fmt.Errorf("load webhook target: %w", err)
	}
	return []line.Message{line.NewText(statusText(hasKey, hasWebhook && target.URL != "", settings))}, nil
}
