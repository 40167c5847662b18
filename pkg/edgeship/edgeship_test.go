package edgeship

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	"github.com/bft-labs/edgeship/internal/domain"
)

type fakeBackend struct {
	*httptest.Server
	mu         sync.Mutex
	events     int
	sessions   int
	heartbeats int
	auth       string
	// token, when set, is required on every request.
	token string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.auth = r.Header.Get("Authorization")
		if fb.token != "" && fb.auth != "Bearer "+fb.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/edge/config":
			w.WriteHeader(http.StatusOK)
		case "/api/edge/events":
			fb.events++
			w.WriteHeader(http.StatusCreated)
		case "/api/edge/sessions":
			fb.sessions++
			w.WriteHeader(http.StatusCreated)
		case "/api/edge/heartbeat":
			fb.heartbeats++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) counts() (events, sessions, heartbeats int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.events, fb.sessions, fb.heartbeats
}

type recordingHandler struct {
	BaseEventHandler
	mu     sync.Mutex
	states []State
	stored []StoredEvent
}

func (h *recordingHandler) OnStateChange(e StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, e.Current)
}

func (h *recordingHandler) OnEventStored(e StoredEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stored = append(h.stored, e)
}

func (h *recordingHandler) snapshot() ([]State, []StoredEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...), append([]StoredEvent(nil), h.stored...)
}

func spoolConfig(t *testing.T, serviceURL string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ServiceURL = serviceURL
	cfg.HubID = "hub-1"
	cfg.Token = "secret"
	cfg.Source = SourceSpool
	cfg.SpoolPath = filepath.Join(dir, "spool", "serial.raw")
	cfg.SpoolPollInterval = 10 * time.Millisecond
	cfg.DBPath = filepath.Join(dir, "outbox.db")
	cfg.SyncInterval = 20 * time.Millisecond
	cfg.SyncInitialDelay = 0
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no service url", func(c *Config) { c.ServiceURL = "" }},
		{"no hub with static token", func(c *Config) { c.HubID = "" }},
		{"no credentials", func(c *Config) { c.Token = ""; c.TokenFile = "" }},
		{"no db", func(c *Config) { c.DBPath = "" }},
		{"serial without port", func(c *Config) { c.Source = SourceSerial; c.SerialPort = "" }},
		{"spool without path", func(c *Config) { c.SpoolPath = "" }},
		{"unknown source", func(c *Config) { c.Source = "tcp" }},
		{"zero batch", func(c *Config) { c.SyncBatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := spoolConfig(t, "http://127.0.0.1:1")
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestNew_DerivesPositionPath(t *testing.T) {
	cfg := spoolConfig(t, "http://127.0.0.1:1/")
	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.SpoolPath+".pos.json", a.config.SpoolPositionPath)
	assert.Equal(t, "http://127.0.0.1:1", a.config.ServiceURL)
	assert.Equal(t, StateStopped, a.Status())
}

func TestAgent_StopWhenNotRunning(t *testing.T) {
	a, err := New(spoolConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)

	assert.ErrorIs(t, a.Stop(), ErrNotRunning)
	_, err = a.ForceSync(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAgent_SpoolEndToEnd(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := spoolConfig(t, fb.URL)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SpoolPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.SpoolPath, []byte("<29>\r\nDaily In == 897.00\r\n"+
		"\x1b@VOUCHER # 1042\r\nMACHINE: #08\r\nGood for $40.00\r\n\x1bP\x00"+
		"SESSION START - MACHINE 04\r\n"), 0o644))

	h := &recordingHandler{}
	a, err := New(cfg, WithEventHandler(h))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		events, sessions, _ := fb.counts()
		return events == 2 && sessions == 1
	}, 5*time.Second, 10*time.Millisecond)

	snap := a.Snapshot(context.Background())
	assert.Equal(t, "Running", snap.State)
	assert.Equal(t, "spool:"+cfg.SpoolPath, snap.Source.Name)
	assert.EqualValues(t, 3, snap.Source.Stored)
	assert.True(t, snap.Sync.Online)

	require.NoError(t, a.Stop())
	assert.Equal(t, StateStopped, a.Status())

	_, _, heartbeats := fb.counts()
	assert.GreaterOrEqual(t, heartbeats, 1, "final heartbeat")
	fb.mu.Lock()
	assert.Equal(t, "Bearer secret", fb.auth)
	fb.mu.Unlock()

	states, stored := h.snapshot()
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, states)
	require.Len(t, stored, 3)
	assert.Equal(t, domain.EventMoneyIn, stored[0].Event.Type)
	assert.Equal(t, "machine_29", stored[0].Event.MachineID)
	assert.Equal(t, domain.EventVoucherPrint, stored[1].Event.Type)
}

func TestAgent_RestartResumesFromPosition(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := spoolConfig(t, fb.URL)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SpoolPath), 0o755))
	first := "<29>\r\nDaily In == 897.00\r\n"
	require.NoError(t, os.WriteFile(cfg.SpoolPath, []byte(first), 0o644))

	h := &recordingHandler{}
	a, err := New(cfg, WithEventHandler(h))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, stored := h.snapshot()
		return len(stored) == 1
	}, 5*time.Second, 10*time.Millisecond)
	positions := fs.NewPositionFile(cfg.SpoolPositionPath)
	require.Eventually(t, func() bool {
		pos, err := positions.Load(context.Background())
		return err == nil && pos.Offset == int64(len(first))
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Stop())

	f, err := os.OpenFile(cfg.SpoolPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("<31>\r\nDaily In == 5.00\r\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, stored := h.snapshot()
		return len(stored) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Stop())

	_, stored := h.snapshot()
	assert.Equal(t, "machine_31", stored[1].Event.MachineID)
}

func TestAgent_ForceSync(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := spoolConfig(t, fb.URL)
	cfg.SyncInterval = time.Hour
	cfg.SyncInitialDelay = time.Hour
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop() }()

	require.Eventually(t, func() bool { return a.Status() == StateRunning }, time.Second, 5*time.Millisecond)
	rep, err := a.ForceSync(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Online)
	assert.Zero(t, rep.Delivered())
}

func TestAgent_StartsWithoutCredentials(t *testing.T) {
	fb := newFakeBackend(t)
	fb.mu.Lock()
	fb.token = "late"
	fb.mu.Unlock()

	cfg := spoolConfig(t, fb.URL)
	cfg.Token = ""
	cfg.HubID = ""
	cfg.TokenFile = filepath.Join(t.TempDir(), "creds", "credentials.env")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SpoolPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.SpoolPath, []byte("<29>\r\nDaily In == 897.00\r\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.TokenFile), 0o700))

	h := &recordingHandler{}
	a, err := New(cfg, WithEventHandler(h))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop() }()

	// Capture runs while sync is rejected.
	require.Eventually(t, func() bool {
		_, stored := h.snapshot()
		return len(stored) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !a.Snapshot(context.Background()).Sync.LastSyncAttempt.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	snap := a.Snapshot(context.Background())
	assert.Equal(t, "Running", snap.State)
	assert.False(t, snap.Sync.Online)
	assert.EqualValues(t, 1, snap.Outbox.PendingCount)
	events, _, _ := fb.counts()
	assert.Zero(t, events)

	require.NoError(t, os.WriteFile(cfg.TokenFile, []byte("MACHINE_TOKEN=late\nMACHINE_ID=hub-late\n"), 0o600))

	require.Eventually(t, func() bool {
		events, _, _ := fb.counts()
		return events == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hub-late", a.Snapshot(context.Background()).HubID)
	assert.Equal(t, StateRunning, a.Status())
}
