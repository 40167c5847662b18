package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/syncer"
)

type fakeBackend struct {
	mu   sync.Mutex
	hbs  []domain.Heartbeat
	fail error
}

func (f *fakeBackend) Probe(context.Context) error                       { return nil }
func (f *fakeBackend) SubmitEvent(context.Context, domain.Event) error   { return nil }
func (f *fakeBackend) SubmitSession(context.Context, domain.Event) error { return nil }
func (f *fakeBackend) Heartbeat(_ context.Context, hb domain.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hbs = append(f.hbs, hb)
	return f.fail
}

func (f *fakeBackend) sent() []domain.Heartbeat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Heartbeat(nil), f.hbs...)
}

type fakeOutbox struct{ pending int64 }

func (f *fakeOutbox) Append(context.Context, domain.Event) (int64, error) { return 0, nil }
func (f *fakeOutbox) ListPending(context.Context, domain.RecordClass, int, int) ([]domain.OutboxRecord, error) {
	return nil, nil
}
func (f *fakeOutbox) MarkSynced(context.Context, int64) error        { return nil }
func (f *fakeOutbox) IncrementAttempts(context.Context, int64) error { return nil }
func (f *fakeOutbox) Cleanup(context.Context) (int64, error)         { return 0, nil }
func (f *fakeOutbox) Stats(context.Context) (domain.OutboxStats, error) {
	return domain.OutboxStats{PendingCount: f.pending}, nil
}

type fakeSync struct{ st syncer.Status }

func (f fakeSync) Status() syncer.Status { return f.st }

type fakeActivity struct{ last time.Time }

func (f fakeActivity) Connected() bool             { return true }
func (f fakeActivity) LastDataReceived() time.Time { return f.last }

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestSnapshot(t *testing.T) {
	now := t0
	r := New(&fakeBackend{}, &fakeOutbox{pending: 7},
		fakeSync{syncer.Status{Online: true, LastSuccessfulSync: t0.Add(-time.Minute)}},
		fakeActivity{last: t0.Add(-time.Second)},
		Config{Version: "1.2.3", Now: func() time.Time { return now }}, nil)
	now = t0.Add(90 * time.Second)

	hb := r.Snapshot(context.Background())
	assert.Equal(t, "1.2.3", hb.PiVersion)
	assert.Equal(t, int64(90), hb.Uptime)
	assert.True(t, hb.SerialConnected)
	assert.True(t, hb.Online)
	assert.Equal(t, int64(7), hb.QueueSize)
	require.NotNil(t, hb.LastDataReceived)
	assert.Equal(t, t0.Add(-time.Second), *hb.LastDataReceived)
	require.NotNil(t, hb.LastSuccessfulSync)
	assert.Empty(t, hb.Status)
}

func TestSnapshotWithoutActivity(t *testing.T) {
	r := New(&fakeBackend{}, &fakeOutbox{}, fakeSync{}, nil, Config{}, nil)
	hb := r.Snapshot(context.Background())
	assert.False(t, hb.SerialConnected)
	assert.Nil(t, hb.LastDataReceived)
	assert.Nil(t, hb.LastSuccessfulSync)
}

func TestSendFailureIsReturned(t *testing.T) {
	fb := &fakeBackend{fail: errors.New("boom")}
	r := New(fb, &fakeOutbox{}, fakeSync{}, nil, Config{}, nil)
	assert.Error(t, r.Send(context.Background()))
	assert.Len(t, fb.sent(), 1)
}

func TestRunSendsFinalHeartbeat(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb, &fakeOutbox{}, fakeSync{}, nil, Config{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fb.sent()) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	hbs := fb.sent()
	assert.Equal(t, domain.HeartbeatShuttingDown, hbs[len(hbs)-1].Status)
}
