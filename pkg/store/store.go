package store

import (
	"context"
	"errors"
	"time"

	"voicebridge/pkg/domain"
)

// ErrInvalidTTL is returned when an ephemeral entry is written without expiry.
var ErrInvalidTTL = errors.New("ephemeral state requires a positive ttl")

// Store defines durable persistence for per-user configuration and the inbox queue.
// A user row is created implicitly by the first write that references it.
type Store interface {
	// settings
	GetSettings(userID string) (domain.UserSettings, bool, error)
	SaveSettings(userID string, settings domain.UserSettings) error

	// integration targets
	GetPublicKey(userID string) (string, bool, error)
	SavePublicKey(userID, pem string) error
	DeletePublicKey(userID string) error
	GetWebhookTarget(userID string) (domain.WebhookTarget, bool, error)
	SaveWebhookTarget(userID string, target domain.WebhookTarget) error
	DeleteWebhookTarget(userID string) error

	// inbox
	AppendInbox(item domain.InboxItem) (domain.InboxItem, error)
	ListInbox(userID string) ([]domain.InboxItem, error)
	PopInbox(userID string) ([]domain.InboxItem, error)

	// note-client vault links
	LinkVault(vaultID, userID string) error
	UserIDByVault(vaultID string) (string, bool, error)

	// DeleteUser removes the user and everything it owns.
	DeleteUser(userID string) error
}

// StateStore persists short-lived conversation state. Every entry expires.
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Take returns and removes the value in one step; concurrent callers
	// see it at most once.
	Take(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
