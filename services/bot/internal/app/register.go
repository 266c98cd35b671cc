package app

import (
	"errors"
	"fmt"
	"strings"

	"voicebridge/pkg/domain"
	"voicebridge/pkg/envelope"
)

// RegisterVault links a note-client vault to a chat user.
// Default settings are created only when the user has none yet.
func (a *App) RegisterVault(userID, vaultID string) error {
	userID = strings.TrimSpace(userID)
	vaultID = strings.TrimSpace(vaultID)
	if userID == "" || vaultID == "" {
		return fmt.Errorf("%w: lineUserId and vaultId are required", ErrInvalidInput)
	}
	if err := a.store.LinkVault(vaultID, userID); err != nil {
		return fmt.Errorf("link vault: %w", err)
	}
	_, ok, err := a.store.GetSettings(userID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if ok {
		return nil
	}
	if err := a.store.SaveSettings(userID, domain.DefaultSettings()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RegisterPublicKey stores the vault's public key for the linked user.
func (a *App) RegisterPublicKey(vaultID, publicKeyPEM string) error {
	vaultID = strings.TrimSpace(vaultID)
	if vaultID == "" || strings.TrimSpace(publicKeyPEM) == "" {
		return fmt.Errorf("%w: vaultId and publicKeyPem are required", ErrInvalidInput)
	}
	if _, err := envelope.ParsePublicKey(publicKeyPEM); err != nil {
		if errors.Is(err, envelope.ErrInvalidPublicKey) {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return err
	}
	userID, err := a.userForVault(vaultID)
	if err != nil {
		return err
	}
	if err := a.store.SavePublicKey(userID, publicKeyPEM); err != nil {
		return fmt.Errorf("save public key: %w", err)
	}
	return nil
}

// PullInbox returns and removes every pending item for the vault's user.
func (a *App) PullInbox(vaultID string) ([]domain.InboxItem, error) {
	vaultID = strings.TrimSpace(vaultID)
	if vaultID == "" {
		return nil, fmt.Errorf("%w: vaultId is required", ErrInvalidInput)
	}
	userID, err := a.userForVault(vaultID)
	if err != nil {
		return nil, err
	}
	items, err := a.store.PopInbox(userID)
	if err != nil {
		return nil, fmt.Errorf("pop inbox: %w", err)
	}
	return items, nil
}

func (a *App) userForVault(vaultID string) (string, error) {
	userID, ok, err := a.store.UserIDByVault(vaultID)
	if err != nil {
		return "", fmt.Errorf("lookup vault: %w", err)
	}
	if !ok {
		return "", ErrUnknownVault
	}
	return userID, nil
}
