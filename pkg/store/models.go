package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type UserSettingsModel struct {
	UserID       string `gorm:"primaryKey"`
	ConfirmMode  bool   `gorm:"not null"`
	PromptMode   string `gorm:"not null"`
	CustomPrompt *string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type PublicKeyModel struct {
	UserID       string    `gorm:"primaryKey"`
	PublicKeyPEM string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type WebhookTargetModel struct {
	UserID      string `gorm:"primaryKey"`
	WebhookURL  string `gorm:"not null"`
	SecretToken *string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type InboxItemModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        string    `gorm:"not null;index"`
	EncryptedData string    `gorm:"type:text;not null"`
	IV            string    `gorm:"not null"`
	EncryptedKey  string    `gorm:"type:text;not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

type VaultLinkModel struct {
	VaultID   string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}
