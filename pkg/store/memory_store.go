package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"voicebridge/pkg/domain"
)

// MemoryStore keeps durable state in-process for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	settings map[string]domain.UserSettings
	keys     map[string]string
	webhooks map[string]domain.WebhookTarget
	inbox    []domain.InboxItem
	vaults   map[string]string // vault ID -> user ID
	nextID   int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]struct{}),
		settings: make(map[string]domain.UserSettings),
		keys:     make(map[string]string),
		webhooks: make(map[string]domain.WebhookTarget),
		vaults:   make(map[string]string),
	}
}

func (m *MemoryStore) touch(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id required")
	}
	m.users[userID] = struct{}{}
	return nil
}

// HasUser reports whether any write has created the user.
func (m *MemoryStore) HasUser(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok
}

func (m *MemoryStore) GetSettings(userID string) (domain.UserSettings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	return s, ok, nil
}

func (m *MemoryStore) SaveSettings(userID string, settings domain.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.touch(userID); err != nil {
		return err
	}
	if settings.PromptMode == "" {
		settings.PromptMode = domain.ModeMemo
	}
	m.settings[userID] = settings
	return nil
}

func (m *MemoryStore) GetPublicKey(userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pem, ok := m.keys[userID]
	return pem, ok, nil
}

func (m *MemoryStore) SavePublicKey(userID, pem string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.touch(userID); err != nil {
		return err
	}
	m.keys[userID] = pem
	return nil
}

func (m *MemoryStore) DeletePublicKey(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, userID)
	return nil
}

func (m *MemoryStore) GetWebhookTarget(userID string) (domain.WebhookTarget, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.webhooks[userID]
	return t, ok, nil
}

func (m *MemoryStore) SaveWebhookTarget(userID string, target domain.WebhookTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.touch(userID); err != nil {
		return err
	}
	m.webhooks[userID] = target
	return nil
}

func (m *MemoryStore) DeleteWebhookTarget(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, userID)
	return nil
}

// AppendInbox assigns a monotonic id and keeps insertion order.
func (m *MemoryStore) AppendInbox(item domain.InboxItem) (domain.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.touch(item.UserID); err != nil {
		return domain.InboxItem{}, err
	}
	m.nextID++
	item.ID = m.nextID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.inbox = append(m.inbox, item)
	return item, nil
}

func (m *MemoryStore) ListInbox(userID string) ([]domain.InboxItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.InboxItem, 0)
	for _, item := range m.inbox {
		if item.UserID == userID {
			res = append(res, item)
		}
	}
	return res, nil
}

func (m *MemoryStore) PopInbox(userID string) ([]domain.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.InboxItem, 0)
	kept := m.inbox[:0]
	for _, item := range m.inbox {
		if item.UserID == userID {
			res = append(res, item)
			continue
		}
		kept = append(kept, item)
	}
	m.inbox = kept
	return res, nil
}

func (m *MemoryStore) LinkVault(vaultID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.touch(userID); err != nil {
		return err
	}
	m.vaults[vaultID] = userID
	return nil
}

func (m *MemoryStore) UserIDByVault(vaultID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.vaults[vaultID]
	return userID, ok, nil
}

func (m *MemoryStore) DeleteUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	delete(m.settings, userID)
	delete(m.keys, userID)
	delete(m.webhooks, userID)
	kept := m.inbox[:0]
	for _, item := range m.inbox {
		if item.UserID != userID {
			kept = append(kept, item)
		}
	}
	m.inbox = kept
	for vaultID, owner := range m.vaults {
		if owner == userID {
			delete(m.vaults, vaultID)
		}
	}
	return nil
}
