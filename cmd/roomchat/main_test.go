package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_StopsOnCancel(t *testing.T) {
	t.Setenv("ROOMCHAT_HTTP_HOST", "127.0.0.1")
	t.Setenv("ROOMCHAT_HTTP_PORT", "0")
	t.Setenv("ROOMCHAT_HISTORY_BACKEND", "memory")
	t.Setenv("ROOMCHAT_LOG_LEVEL", "ERROR")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, "") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"history": {"backend": "tape"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing file", filepath.Join(dir, "absent.json"), "failed to load configuration"},
		{"invalid backend", invalid, "unknown history backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRun_StartFailure(t *testing.T) {
	t.Setenv("ROOMCHAT_HTTP_HOST", "256.0.0.1")
	t.Setenv("ROOMCHAT_HISTORY_BACKEND", "memory")
	t.Setenv("ROOMCHAT_LOG_LEVEL", "ERROR")

	err := run(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "application error") {
		t.Errorf("Expected start failure, got %v", err)
	}
}
