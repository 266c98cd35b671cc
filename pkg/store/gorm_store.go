package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"voicebridge/pkg/domain"
)

const migrateLockID int64 = 51820417

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&UserSettingsModel{},
			&PublicKeyModel{},
			&WebhookTargetModel{},
			&InboxItemModel{},
			&VaultLinkModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == DriverPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureUser(tx *gorm.DB, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id required")
	}
	model := UserModel{ID: userID}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(&model).Error
}

// GetSettings returns the user's settings row.
func (s *GormStore) GetSettings(userID string) (domain.UserSettings, bool, error) {
	var model UserSettingsModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserSettings{}, false, nil
		}
		return domain.UserSettings{}, false, err
	}
	return settingsFromModel(model), true, nil
}

// SaveSettings upserts the settings row (last writer wins).
func (s *GormStore) SaveSettings(userID string, settings domain.UserSettings) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		model := settingsToModel(userID, settings)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"confirm_mode", "prompt_mode", "custom_prompt", "updated_at"}),
		}).Create(&model).Error
	})
}

// GetPublicKey returns the PEM registered by the note client.
func (s *GormStore) GetPublicKey(userID string) (string, bool, error) {
	var model PublicKeyModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.PublicKeyPEM, true, nil
}

// SavePublicKey upserts the user's public key.
func (s *GormStore) SavePublicKey(userID, pem string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		model := PublicKeyModel{UserID: userID, PublicKeyPEM: pem}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"public_key_pem", "updated_at"}),
		}).Create(&model).Error
	})
}

// DeletePublicKey removes the user's public key, if any.
func (s *GormStore) DeletePublicKey(userID string) error {
	return s.db.Where("user_id = ?", userID).Delete(&PublicKeyModel{}).Error
}

// GetWebhookTarget returns the user's external webhook.
func (s *GormStore) GetWebhookTarget(userID string) (domain.WebhookTarget, bool, error) {
	var model WebhookTargetModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.WebhookTarget{}, false, nil
		}
		return domain.WebhookTarget{}, false, err
	}
	target := domain.WebhookTarget{URL: model.WebhookURL}
	if model.SecretToken != nil {
		target.SecretToken = *model.SecretToken
	}
	return target, true, nil
}

// SaveWebhookTarget upserts the user's external webhook.
func (s *GormStore) SaveWebhookTarget(userID string, target domain.WebhookTarget) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		model := WebhookTargetModel{
			UserID:      userID,
			WebhookURL:  target.URL,
			SecretToken: nullableString(target.SecretToken),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"webhook_url", "secret_token", "updated_at"}),
		}).Create(&model).Error
	})
}

// DeleteWebhookTarget removes the user's external webhook, if any.
func (s *GormStore) DeleteWebhookTarget(userID string) error {
	return s.db.Where("user_id = ?", userID).Delete(&WebhookTargetModel{}).Error
}

// AppendInbox stores one encrypted summary and returns it with its assigned id.
func (s *GormStore) AppendInbox(item domain.InboxItem) (domain.InboxItem, error) {
	model := InboxItemModel{
		UserID:        item.UserID,
		EncryptedData: item.EncryptedData,
		IV:            item.IV,
		EncryptedKey:  item.EncryptedKey,
		CreatedAt:     item.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, item.UserID); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.InboxItem{}, err
	}
	return inboxFromModel(model), nil
}

// ListInbox returns pending items oldest first.
func (s *GormStore) ListInbox(userID string) ([]domain.InboxItem, error) {
	return listInbox(s.db, userID)
}

// PopInbox returns pending items oldest first and deletes them in the same call.
func (s *GormStore) PopInbox(userID string) ([]domain.InboxItem, error) {
	var items []domain.InboxItem
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		items, err = listInbox(tx, userID)
		if err != nil || len(items) == 0 {
			return err
		}
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&InboxItemModel{}).Error
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func listInbox(tx *gorm.DB, userID string) ([]domain.InboxItem, error) {
	var models []InboxItemModel
	if err := tx.Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.InboxItem, 0, len(models))
	for _, m := range models {
		res = append(res, inboxFromModel(m))
	}
	return res, nil
}

// LinkVault maps a note-client vault to a user, replacing any previous mapping.
func (s *GormStore) LinkVault(vaultID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		model := VaultLinkModel{VaultID: vaultID, UserID: userID}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vault_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
		}).Create(&model).Error
	})
}

// UserIDByVault resolves a vault id to its user.
func (s *GormStore) UserIDByVault(vaultID string) (string, bool, error) {
	var model VaultLinkModel
	if err := s.db.First(&model, "vault_id = ?", vaultID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.UserID, true, nil
}

// DeleteUser removes the user row and every row it owns.
func (s *GormStore) DeleteUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		owned := []any{
			&UserSettingsModel{},
			&PublicKeyModel{},
			&WebhookTargetModel{},
			&InboxItemModel{},
			&VaultLinkModel{},
		}
		for _, model := range owned {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", userID).Delete(&UserModel{}).Error
	})
}

func settingsToModel(userID string, s domain.UserSettings) UserSettingsModel {
	mode := s.PromptMode
	if mode == "" {
		mode = domain.ModeMemo
	}
	return UserSettingsModel{
		UserID:       userID,
		ConfirmMode:  s.ConfirmMode,
		PromptMode:   string(mode),
		CustomPrompt: nullableString(s.CustomPrompt),
	}
}

func settingsFromModel(m UserSettingsModel) domain.UserSettings {
	s := domain.UserSettings{
		ConfirmMode: m.ConfirmMode,
		PromptMode:  domain.PromptMode(m.PromptMode),
	}
	if m.CustomPrompt != nil {
		s.CustomPrompt = *m.CustomPrompt
	}
	return s
}

func inboxFromModel(m InboxItemModel) domain.InboxItem {
	return domain.InboxItem{
		ID:            m.ID,
		UserID:        m.UserID,
		EncryptedData: m.EncryptedData,
		IV:            m.IV,
		EncryptedKey:  m.EncryptedKey,
		CreatedAt:     m.CreatedAt,
	}
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
