package domain

import "time"

type PromptMode string

const (
	ModeMemo       PromptMode = "memo"
	ModeDiary      PromptMode = "diary"
	ModeToDo       PromptMode = "todo"
	ModeBrainstorm PromptMode = "brainstorm"
	ModeCustom     PromptMode = "custom"
)

// IntegrationType is the save destination currently configured for a user.
type IntegrationType string

const (
	IntegrationObsidian IntegrationType = "obsidian"
	IntegrationWebhook  IntegrationType = "webhook"
	IntegrationNone     IntegrationType = "none"
)

// SetupState is the onboarding sub-state kept in the ephemeral store.
type SetupState string

const (
	SetupNone               SetupState = ""
	SetupWaitingForObsidian SetupState = "waiting_for_obsidian"
	SetupWaitingForWebhook  SetupState = "waiting_for_webhook"
	SetupChangingTarget     SetupState = "changing_target"
)

type UserSettings struct {
	ConfirmMode  bool       `json:"confirmMode"`
	PromptMode   PromptMode `json:"promptMode"`
	CustomPrompt string     `json:"customPrompt,omitempty"`
}

// DefaultSettings returns the settings a user starts with.
func DefaultSettings() UserSettings {
	return UserSettings{ConfirmMode: true, PromptMode: ModeMemo}
}

// EffectiveMode falls back to memo for empty or unknown stored values.
func (s UserSettings) EffectiveMode() PromptMode {
	if s.PromptMode == ModeCustom {
		return ModeCustom
	}
	if _, ok := modeDetails[s.PromptMode]; ok {
		return s.PromptMode
	}
	return ModeMemo
}

type WebhookTarget struct {
	URL         string `json:"url"`
	SecretToken string `json:"-"`
}

type InboxItem struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"lineUserId"`
	EncryptedData string    `json:"encryptedData"`
	IV            string    `json:"iv"`
	EncryptedKey  string    `json:"encryptedKey"`
	CreatedAt     time.Time `json:"createdAt"`
}
