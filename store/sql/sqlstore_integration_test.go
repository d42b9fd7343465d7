package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/security"
	persistence "github.com/goliatone/go-persistence-bun"
)

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:connectors-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	client, err := OpenSQLite(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return client, func() {
		_ = client.Close()
	}
}

type fixedClock struct {
	now atomic.Int64
}

func newFixedClock(at time.Time) *fixedClock {
	clock := &fixedClock{}
	clock.now.Store(at.UnixNano())
	return clock
}

func (c *fixedClock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

func (c *fixedClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"oauth_tokens", "activity_log"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestCredentialStore_PutUpsertsAndKeepsCreatedAt(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	clock := newFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store, err := NewCredentialStore(client.DB(), WithStoreClock(clock.Now))
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}

	first, err := store.Put(ctx, core.TokenRecord{
		UserEmail:    " Ana@Example.com ",
		Provider:     "Google",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    clock.Now().Add(time.Hour),
		Scopes:       []string{"email", "profile"},
		Metadata:     map[string]any{"id_token_present": true},
	})
	if err != nil {
		t.Fatalf("put first: %v", err)
	}
	if first.UserEmail != "ana@example.com" || first.Provider != "google" {
		t.Fatalf("expected normalized key, got %q/%q", first.UserEmail, first.Provider)
	}

	clock.Advance(10 * time.Minute)
	second, err := store.Put(ctx, core.TokenRecord{
		UserEmail:   "ana@example.com",
		Provider:    "google",
		AccessToken: "access-2",
		ExpiresAt:   clock.Now().Add(time.Hour),
		Scopes:      []string{"email"},
	})
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at to be preserved, got %v want %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updated_at to advance")
	}

	var rows int
	if err := client.DB().NewRaw("SELECT COUNT(*) FROM oauth_tokens").Scan(ctx, &rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one row per (user, provider), got %d", rows)
	}

	got, ok, err := store.Get(ctx, "ana@example.com", "google")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if got.AccessToken != "access-2" || got.RefreshToken != "" || len(got.Scopes) != 1 {
		t.Fatalf("unexpected record %#v", got)
	}
	if len(got.Metadata) != 0 {
		t.Fatalf("expected metadata to be replaced on upsert, got %#v", got.Metadata)
	}
}

func TestCredentialStore_ConcurrentFirstPutsConverge(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()
	store, err := NewCredentialStore(client.DB())
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, putErr := store.Put(ctx, core.TokenRecord{
				UserEmail:   "ana@example.com",
				Provider:    "atlassian",
				AccessToken: fmt.Sprintf("access-%d", index),
				ExpiresAt:   time.Now().Add(time.Hour),
			})
			errs <- putErr
		}(i)
	}
	wg.Wait()
	close(errs)
	for putErr := range errs {
		if putErr != nil {
			t.Fatalf("expected concurrent first puts to upsert, got %v", putErr)
		}
	}

	var rows int
	if err := client.DB().NewRaw("SELECT COUNT(*) FROM oauth_tokens").Scan(ctx, &rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected a single row, got %d", rows)
	}
}

func TestCredentialStore_GetValidRespectsRefreshBuffer(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	clock := newFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store, err := NewCredentialStore(client.DB(), WithStoreClock(clock.Now), WithRefreshBuffer(5*time.Minute))
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}
	if _, err := store.Put(ctx, core.TokenRecord{
		UserEmail:   "ana@example.com",
		Provider:    "atlassian",
		AccessToken: "a",
		ExpiresAt:   clock.Now().Add(4 * time.Minute),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok, err := store.GetValid(ctx, "ana@example.com", "atlassian"); err != nil || ok {
		t.Fatalf("expected record inside buffer to be absent, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Get(ctx, "ana@example.com", "atlassian"); !ok {
		t.Fatalf("expected raw get to still return the record")
	}

	if _, err := store.Put(ctx, core.TokenRecord{
		UserEmail:   "ana@example.com",
		Provider:    "slack",
		AccessToken: "xoxb",
		ExpiresAt:   core.NoExpirySentinel,
	}); err != nil {
		t.Fatalf("put slack: %v", err)
	}
	record, ok, err := store.GetValid(ctx, "ana@example.com", "slack")
	if err != nil || !ok {
		t.Fatalf("expected non-expiring record to be valid, ok=%v err=%v", ok, err)
	}
	if !record.NeverExpires() {
		t.Fatalf("expected sentinel expiry, got %v", record.ExpiresAt)
	}
}

func TestCredentialStore_EncryptsTokensAtRest(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	secrets, err := security.NewAppKeySecretProviderFromString("test-app-key")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	store, err := NewCredentialStore(client.DB(), WithSecretProvider(secrets))
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}
	if _, err := store.Put(ctx, core.TokenRecord{
		UserEmail:    "ana@example.com",
		Provider:     "google",
		AccessToken:  "ya29.plain-access",
		RefreshToken: "1//plain-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var access, refresh string
	if err := client.DB().NewRaw("SELECT access_token, refresh_token FROM oauth_tokens").Scan(ctx, &access, &refresh); err != nil {
		t.Fatalf("select raw tokens: %v", err)
	}
	if strings.Contains(access, "plain-access") || !security.IsSealed([]byte(access)) {
		t.Fatalf("expected sealed access token, got %q", access)
	}
	if strings.Contains(refresh, "plain-refresh") || !security.IsSealed([]byte(refresh)) {
		t.Fatalf("expected sealed refresh token, got %q", refresh)
	}

	record, ok, err := store.Get(ctx, "ana@example.com", "google")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if record.AccessToken != "ya29.plain-access" || record.RefreshToken != "1//plain-refresh" {
		t.Fatalf("expected decrypted tokens, got %#v", record)
	}

	plainStore, _ := NewCredentialStore(client.DB())
	if _, err := plainStore.Put(ctx, core.TokenRecord{
		UserEmail:   "bob@example.com",
		Provider:    "google",
		AccessToken: "legacy-plain",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("put plaintext: %v", err)
	}
	legacy, ok, err := store.Get(ctx, "bob@example.com", "google")
	if err != nil || !ok || legacy.AccessToken != "legacy-plain" {
		t.Fatalf("expected plaintext rows to stay readable, got %#v %v", legacy, err)
	}
}

func TestCredentialStore_ListUsersListExpiringAndDelete(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := NewCredentialStore(client.DB(), WithStoreClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}
	seed := []core.TokenRecord{
		{UserEmail: "zoe@example.com", Provider: "google", AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(2 * time.Minute)},
		{UserEmail: "ana@example.com", Provider: "google", AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)},
		{UserEmail: "bob@example.com", Provider: "google", AccessToken: "a", ExpiresAt: now.Add(3 * time.Minute)},
		{UserEmail: "ana@example.com", Provider: "slack", AccessToken: "a", ExpiresAt: core.NoExpirySentinel},
	}
	for _, record := range seed {
		if _, err := store.Put(ctx, record); err != nil {
			t.Fatalf("seed %s/%s: %v", record.UserEmail, record.Provider, err)
		}
	}

	users, err := store.ListUsers(ctx, "google")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0] != "ana@example.com" {
		t.Fatalf("expected only ana to hold a valid google credential, got %v", users)
	}
	all, err := store.ListUsers(ctx, "")
	if err != nil || len(all) != 1 {
		t.Fatalf("expected deduplicated users across providers, got %v %v", all, err)
	}

	expiring, err := store.ListExpiring(ctx, now.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].UserEmail != "zoe@example.com" {
		t.Fatalf("expected only refreshable zoe, got %#v", expiring)
	}

	if err := store.Delete(ctx, "ana@example.com", "google"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "ana@example.com", "google"); ok {
		t.Fatalf("expected deleted record to be absent")
	}
	if _, ok, _ := store.Get(ctx, "ana@example.com", "slack"); !ok {
		t.Fatalf("expected other provider to survive delete")
	}
}

func TestActivityStore_LogListFiltersAndRedacts(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewActivityStore(client.DB())
	if err != nil {
		t.Fatalf("new activity store: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []core.ActivityEntry{
		{UserEmail: "ana@example.com", Provider: "google", Action: "oauth_success", CreatedAt: base},
		{UserEmail: "ana@example.com", Provider: "google", Action: "token_refresh_failed", CreatedAt: base.Add(time.Minute), Details: map[string]any{
			"error":         "invalid_grant",
			"refresh_token": "1//leak",
			"remote":        map[string]any{"access_token": "ya29.leak", "status": 400},
		}},
		{UserEmail: "bob@example.com", Provider: "slack", Action: "oauth_success", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, entry := range entries {
		if err := store.Log(ctx, entry); err != nil {
			t.Fatalf("log %s: %v", entry.Action, err)
		}
	}
	if err := store.Log(ctx, core.ActivityEntry{UserEmail: "ana@example.com"}); !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for missing action, got %v", err)
	}

	ana, err := store.List(ctx, core.ActivityFilter{UserEmail: "ANA@example.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ana) != 2 || ana[0].Action != "token_refresh_failed" {
		t.Fatalf("expected newest-first entries for ana, got %#v", ana)
	}
	if ana[0].ID <= ana[1].ID {
		t.Fatalf("expected increasing ids, got %d then %d", ana[1].ID, ana[0].ID)
	}
	details := ana[0].Details
	if details["refresh_token"] != redactedValue || details["error"] != "invalid_grant" {
		t.Fatalf("unexpected details %#v", details)
	}
	remote, _ := details["remote"].(map[string]any)
	if remote["access_token"] != redactedValue {
		t.Fatalf("expected nested redaction, got %#v", remote)
	}

	successes, err := store.List(ctx, core.ActivityFilter{Action: "oauth_success", Limit: 1})
	if err != nil {
		t.Fatalf("list by action: %v", err)
	}
	if len(successes) != 1 || successes[0].UserEmail != "bob@example.com" {
		t.Fatalf("expected latest oauth_success first, got %#v", successes)
	}
	page2, err := store.List(ctx, core.ActivityFilter{Action: "oauth_success", Limit: 1, Offset: 1})
	if err != nil || len(page2) != 1 || page2[0].UserEmail != "ana@example.com" {
		t.Fatalf("unexpected second page %#v %v", page2, err)
	}
}

type callbackStrategy struct{}

func (callbackStrategy) AuthorizeURL(cfg core.ProviderConfig, state string, _ []string) (string, error) {
	return cfg.AuthorizeURL + "?state=" + state, nil
}

func (callbackStrategy) Exchange(context.Context, core.ProviderConfig, string) (core.TokenGrant, error) {
	return core.TokenGrant{
		AccessToken:  "ya29.callback",
		RefreshToken: "1//callback",
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       []string{"email"},
	}, nil
}

func (callbackStrategy) Refresh(context.Context, core.ProviderConfig, string) (core.TokenGrant, error) {
	return core.TokenGrant{}, fmt.Errorf("not used")
}

func (callbackStrategy) Revoke(context.Context, core.ProviderConfig, core.TokenRecord) error {
	return nil
}

func (callbackStrategy) UserInfo(context.Context, core.ProviderConfig, string) (map[string]any, error) {
	return map[string]any{"email": "ana@example.com"}, nil
}

func TestNewService_WiresStoresFromRepositoryFactory(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	ctx := context.Background()

	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	opts := append(factory.Options(), core.WithProvider(core.ProviderConfig{
		Name:          "google",
		ClientID:      "client",
		ClientSecret:  "secret",
		RedirectURI:   "https://app.example.com/callback",
		AuthorizeURL:  "https://accounts.example.com/authorize",
		TokenURL:      "https://accounts.example.com/token",
		DefaultScopes: []string{"email"},
		Quirks:        core.ProviderQuirks{IssuesRefreshToken: true},
	}, callbackStrategy{}))
	svc, err := core.NewService(core.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	auth, err := svc.AuthURL(ctx, core.AuthURLRequest{Provider: "google", UserEmail: "ana@example.com"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if _, err := svc.HandleCallback(ctx, core.CallbackRequest{Provider: "google", Code: "code-1", State: auth.State}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	svc.Close(ctx)

	record, ok, err := factory.SQLCredentialStore().GetValid(ctx, "ana@example.com", "google")
	if err != nil || !ok {
		t.Fatalf("expected persisted credential, ok=%v err=%v", ok, err)
	}
	if record.AccessToken != "ya29.callback" || record.RefreshToken != "1//callback" {
		t.Fatalf("unexpected persisted record %#v", record)
	}

	activity, err := factory.ActivityStore().List(ctx, core.ActivityFilter{UserEmail: "ana@example.com", Action: core.ActivityOAuthSuccess})
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if len(activity) != 1 {
		t.Fatalf("expected oauth_success to be flushed to sqlite, got %#v", activity)
	}
}
