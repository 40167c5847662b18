package edgeship

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ServiceURL = "http://127.0.0.1:1"
	cfg.HubID = "hub-1"
	cfg.Token = "secret"
	cfg.Source = "spool"
	cfg.SpoolPath = filepath.Join(dir, "serial.raw")
	cfg.DBPath = filepath.Join(dir, "outbox.db")
	cfg.SyncInitialDelay = time.Hour
	cfg.HTTPTimeout = 100 * time.Millisecond
	return cfg
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HubID = ""
	if err := Run(context.Background(), cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Run() = %v, want ErrInvalidConfig", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig(t)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
