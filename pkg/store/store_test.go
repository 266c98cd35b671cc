package store

import (
	"path/filepath"
	"testing"
	"time"

	"voicebridge/pkg/domain"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestGormStoreContract(t *testing.T) {
	s, err := NewGormStore(DriverSQLite, filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestNewGormStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewGormStore("mysql", "dsn"); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func runStoreContract(t *testing.T, s Store) {
	t.Helper()

	if _, ok, err := s.GetSettings("u1"); err != nil || ok {
		t.Fatalf("fresh user should have no settings, ok=%v err=%v", ok, err)
	}
	if err := s.SaveSettings("u1", domain.DefaultSettings()); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	custom := domain.UserSettings{ConfirmMode: false, PromptMode: domain.ModeDiary, CustomPrompt: "old text"}
	if err := s.SaveSettings("u1", custom); err != nil {
		t.Fatalf("overwrite settings: %v", err)
	}
	got, ok, err := s.GetSettings("u1")
	if err != nil || !ok {
		t.Fatalf("get settings: ok=%v err=%v", ok, err)
	}
	if got != custom {
		t.Fatalf("settings = %+v, want %+v", got, custom)
	}

	if err := s.SavePublicKey("u1", "PEM-1"); err != nil {
		t.Fatalf("save key: %v", err)
	}
	if err := s.SavePublicKey("u1", "PEM-2"); err != nil {
		t.Fatalf("replace key: %v", err)
	}
	if pem, ok, _ := s.GetPublicKey("u1"); !ok || pem != "PEM-2" {
		t.Fatalf("public key = %q ok=%v", pem, ok)
	}
	target := domain.WebhookTarget{URL: "https://example.com/hook", SecretToken: "s3cret"}
	if err := s.SaveWebhookTarget("u1", target); err != nil {
		t.Fatalf("save webhook: %v", err)
	}
	if wt, ok, _ := s.GetWebhookTarget("u1"); !ok || wt != target {
		t.Fatalf("webhook = %+v ok=%v", wt, ok)
	}
	if err := s.DeleteWebhookTarget("u1"); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	if _, ok, _ := s.GetWebhookTarget("u1"); ok {
		t.Fatalf("webhook should be gone")
	}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := s.AppendInbox(domain.InboxItem{UserID: "u1", EncryptedData: "a", IV: "iv", EncryptedKey: "k", CreatedAt: base})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.AppendInbox(domain.InboxItem{UserID: "u1", EncryptedData: "b", IV: "iv", EncryptedKey: "k", CreatedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids must increase: %d then %d", first.ID, second.ID)
	}
	if _, err := s.AppendInbox(domain.InboxItem{UserID: "u2", EncryptedData: "other", IV: "iv", EncryptedKey: "k"}); err != nil {
		t.Fatalf("append other: %v", err)
	}

	if err := s.LinkVault("vault-1", "u1"); err != nil {
		t.Fatalf("link vault: %v", err)
	}
	if userID, ok, _ := s.UserIDByVault("vault-1"); !ok || userID != "u1" {
		t.Fatalf("vault lookup = %q ok=%v", userID, ok)
	}

	popped, err := s.PopInbox("u1")
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(popped) != 2 || popped[0].EncryptedData != "a" || popped[1].EncryptedData != "b" {
		t.Fatalf("pop should return u1 items oldest first, got %+v", popped)
	}
	if again, _ := s.PopInbox("u1"); len(again) != 0 {
		t.Fatalf("second pop should be empty, got %d", len(again))
	}
	if other, _ := s.ListInbox("u2"); len(other) != 1 {
		t.Fatalf("other user's inbox must be untouched, got %d", len(other))
	}

	if _, err := s.AppendInbox(domain.InboxItem{UserID: "u1", EncryptedData: "c", IV: "iv", EncryptedKey: "k"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteUser("u1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := s.GetSettings("u1"); ok {
		t.Fatalf("settings should cascade")
	}
	if _, ok, _ := s.GetPublicKey("u1"); ok {
		t.Fatalf("public key should cascade")
	}
	if _, ok, _ := s.UserIDByVault("vault-1"); ok {
		t.Fatalf("vault link should cascade")
	}
	if items, _ := s.ListInbox("u1"); len(items) != 0 {
		t.Fatalf("inbox should cascade, got %d", len(items))
	}
	if items, _ := s.ListInbox("u2"); len(items) != 1 {
		t.Fatalf("other user's inbox must survive, got %d", len(items))
	}
}
