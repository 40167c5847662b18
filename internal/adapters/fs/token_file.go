package fs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/edgeship/pkg/log"
)

// Keys read from the credentials env file.
const (
	KeyMachineToken = "MACHINE_TOKEN"
	KeyMachineID    = "MACHINE_ID"
	KeyRefreshToken = "REFRESH_TOKEN"
)

const tokenDebounce = 100 * time.Millisecond

// TokenFile implements ports.TokenSource over a KEY=VALUE env file that an
// external refresher rewrites. The file is re-read when it changes.
type TokenFile struct {
	path   string
	logger log.Logger

	mu     sync.RWMutex
	values map[string]string
}

// NewTokenFile loads path. A missing or incomplete file is logged and
// leaves the token empty until Run sees the file written.
func NewTokenFile(path string, logger log.Logger) *TokenFile {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	t := &TokenFile{path: path, logger: logger}
	if err := t.reload(); err != nil {
		logger.Warn("credentials not loaded, sync will fail until they are", log.Err(err))
	}
	return t
}

// CurrentAccessToken returns the MACHINE_TOKEN last read from the file.
func (t *TokenFile) CurrentAccessToken() string {
	return t.Get(KeyMachineToken)
}

// HubID returns the MACHINE_ID last read from the file.
func (t *TokenFile) HubID() string {
	return t.Get(KeyMachineID)
}

// Get returns a value from the file.
func (t *TokenFile) Get(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[key]
}

func (t *TokenFile) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	values := ParseEnvFile(data)
	if values[KeyMachineToken] == "" {
		return fmt.Errorf("token file %s: %s is empty", t.path, KeyMachineToken)
	}
	t.mu.Lock()
	t.values = values
	t.mu.Unlock()
	return nil
}

// Run watches the file's directory and reloads on change until ctx is
// done. A rewrite that fails to parse keeps the previous token.
func (t *TokenFile) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("token watcher: %w", err)
	}
	defer watcher.Close()

	// Refreshers usually replace the file by rename, so watch the directory.
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("token watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("token watcher: %w", err)
	}
	if t.CurrentAccessToken() == "" {
		// The file may have appeared before the watch started.
		if err := t.reload(); err == nil {
			t.logger.Info("access token loaded", log.String("path", t.path))
		}
	}

	name := filepath.Base(t.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(tokenDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("token watcher error", log.Err(err))
		case <-debounce:
			debounce = nil
			if err := t.reload(); err != nil {
				t.logger.Warn("token reload failed, keeping previous token", log.Err(err))
				continue
			}
			t.logger.Info("access token reloaded", log.String("path", t.path))
		}
	}
}

// ParseEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped, an "export " prefix is allowed and surrounding quotes are
// removed from values.
func ParseEnvFile(data []byte) map[string]string {
	values := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}
	return values
}
