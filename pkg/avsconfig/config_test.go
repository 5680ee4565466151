package avsconfig

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	want := Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ProductID:    "product-id",
		RefreshToken: "refresh-token",
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}

func TestUpdateRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	initial := Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "old-token"}
	if err := Save(path, initial); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	if err := UpdateRefreshToken(path, "new-token"); err != nil {
		t.Fatalf("unexpected error updating: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if got.RefreshToken != "new-token" {
		t.Errorf("expected refresh token to be updated, got %q", got.RefreshToken)
	}
	if got.ClientID != "id" {
		t.Errorf("expected other fields to be preserved, got %+v", got)
	}
}

func TestWaitForRefreshTokenReturnsImmediatelyWhenPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	want := Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "already-have-one"}
	if err := Save(path, want); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	called := false
	got, err := WaitForRefreshToken(context.Background(), path, time.Millisecond, func(string) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if called {
		t.Fatal("onWaiting should not be called when a refresh token is already present")
	}
}

func TestWaitForRefreshTokenPollsUntilRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	initial := Config{ClientID: "id", ClientSecret: "secret"}
	if err := Save(path, initial); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	waitingCalls := 0
	resultCh := make(chan Config, 1)
	errCh := make(chan error, 1)
	go func() {
		cfg, err := WaitForRefreshToken(context.Background(), path, 5*time.Millisecond, func(string) { waitingCalls++ })
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- cfg
	}()

	// Give the poller a couple of ticks before the out-of-band
	// authorization flow "rewrites" the file with a refresh token.
	time.Sleep(20 * time.Millisecond)
	if err := UpdateRefreshToken(path, "new-refresh-token"); err != nil {
		t.Fatalf("unexpected error updating: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case cfg := <-resultCh:
		if cfg.RefreshToken != "new-refresh-token" {
			t.Fatalf("expected new-refresh-token, got %q", cfg.RefreshToken)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for WaitForRefreshToken to observe the rewrite")
	}
	if waitingCalls != 1 {
		t.Fatalf("expected onWaiting to be called exactly once, got %d", waitingCalls)
	}
}

func TestWaitForRefreshTokenRespectsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Config{ClientID: "id"}); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := WaitForRefreshToken(ctx, path, 5*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected an error when the context is canceled before a refresh token appears")
	}
}
