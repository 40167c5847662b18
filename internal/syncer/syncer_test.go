package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/bft-labs/edgeship/internal/adapters/http"
	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/outbox"
	"github.com/bft-labs/edgeship/internal/ports"
)

type backendServer struct {
	*httptest.Server
	mu       sync.Mutex
	events   int
	sessions int
	failAt   int // 1-based index of the events POST to reject, 0 for none
	down     atomic.Bool
}

func newBackendServer(t *testing.T) *backendServer {
	t.Helper()
	bs := &backendServer{}
	bs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bs.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		bs.mu.Lock()
		defer bs.mu.Unlock()
		switch r.URL.Path {
		case "/api/edge/config":
			w.WriteHeader(http.StatusOK)
		case "/api/edge/events":
			bs.events++
			if bs.events == bs.failAt {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case "/api/edge/sessions":
			bs.sessions++
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(bs.Close)
	return bs
}

func (bs *backendServer) counts() (events, sessions int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.events, bs.sessions
}

func openOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	o, err := outbox.Open(context.Background(), outbox.Config{Path: filepath.Join(t.TempDir(), "outbox.db")})
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func seed(t *testing.T, o *outbox.Outbox, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(i + 1))
		id, err := o.Append(context.Background(), domain.Event{
			Type:       domain.EventMoneyIn,
			MachineID:  fmt.Sprintf("machine_%02d", i+1),
			Amount:     &amount,
			Timestamp:  time.Now().UTC(),
			RawPayload: "MONEY IN",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func newEngine(o ports.Outbox, url string) *Engine {
	backend := httpadapter.NewBackend(http.DefaultClient, httpadapter.StaticToken("t"),
		ports.AgentMetadata{ServiceURL: url, Hostname: "test"}, nil)
	return New(o, backend, Config{BatchSize: 10, MaxAttempts: 5}, nil, nil)
}

func TestTickDeliversAtMostBatchSize(t *testing.T) {
	o := openOutbox(t)
	seed(t, o, 12)
	bs := newBackendServer(t)
	e := newEngine(o, bs.URL)
	ctx := context.Background()

	rep := e.Tick(ctx)
	require.NoError(t, rep.Err)
	assert.Equal(t, 10, rep.Delivered())

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PendingCount)

	rep = e.Tick(ctx)
	require.NoError(t, rep.Err)
	assert.Equal(t, 2, rep.Delivered())

	st := e.Status()
	assert.True(t, st.Online)
	assert.False(t, st.LastSuccessfulSync.IsZero())
	assert.Equal(t, int64(12), st.TotalDelivered)
}

func TestTickStopsAtFirstFailure(t *testing.T) {
	o := openOutbox(t)
	ids := seed(t, o, 12)
	bs := newBackendServer(t)
	bs.failAt = 3
	e := newEngine(o, bs.URL)
	ctx := context.Background()

	rep := e.Tick(ctx)
	require.Error(t, rep.Err)
	assert.True(t, errors.Is(rep.Err, domain.ErrDelivery))
	assert.Equal(t, 2, rep.Classes[domain.ClassEvents].Delivered)
	assert.Equal(t, 1, rep.Classes[domain.ClassEvents].Failed)
	events, _ := bs.counts()
	assert.Equal(t, 3, events)

	failed, _, err := o.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, domain.StatusPending, failed.Status)

	for _, id := range ids[3:] {
		rec, _, err := o.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, rec.Attempts)
		assert.Equal(t, domain.StatusPending, rec.Status)
	}

	st := e.Status()
	assert.False(t, st.LastSyncAttempt.IsZero())
	assert.True(t, st.LastSuccessfulSync.IsZero())

	// The failed record is retried first on the next tick.
	rep = e.Tick(ctx)
	require.NoError(t, rep.Err)
	assert.Equal(t, 10, rep.Delivered())
	rec, _, err := o.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSynced, rec.Status)
}

func TestProbeFailureTouchesNothing(t *testing.T) {
	o := openOutbox(t)
	ids := seed(t, o, 3)
	bs := newBackendServer(t)
	bs.down.Store(true)
	e := newEngine(o, bs.URL)
	ctx := context.Background()

	rep := e.Tick(ctx)
	assert.True(t, errors.Is(rep.Err, domain.ErrConnectivity))
	assert.False(t, rep.Online)
	assert.False(t, e.Online())

	for _, id := range ids {
		rec, _, err := o.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, rec.Attempts)
	}
}

func TestSessionsDrainIndependently(t *testing.T) {
	o := openOutbox(t)
	seed(t, o, 2)
	_, err := o.Append(context.Background(), domain.Event{
		Type:      domain.EventSessionEnd,
		MachineID: "machine_02",
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{domain.MetaAction: "end"},
	})
	require.NoError(t, err)

	bs := newBackendServer(t)
	bs.failAt = 1
	e := newEngine(o, bs.URL)

	rep := e.Tick(context.Background())
	assert.Equal(t, 0, rep.Classes[domain.ClassEvents].Delivered)
	assert.Equal(t, 1, rep.Classes[domain.ClassSessions].Delivered)
	_, sessions := bs.counts()
	assert.Equal(t, 1, sessions)
}

// blockingBackend holds Probe until release is closed.
type blockingBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Probe(ctx context.Context) error {
	close(b.entered)
	<-b.release
	return nil
}
func (b *blockingBackend) SubmitEvent(context.Context, domain.Event) error   { return nil }
func (b *blockingBackend) SubmitSession(context.Context, domain.Event) error { return nil }
func (b *blockingBackend) Heartbeat(context.Context, domain.Heartbeat) error { return nil }

func TestOverlappingTickIsSkipped(t *testing.T) {
	o := openOutbox(t)
	bb := &blockingBackend{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(o, bb, Config{}, nil, nil)

	done := make(chan Report)
	go func() { done <- e.Tick(context.Background()) }()
	<-bb.entered

	assert.True(t, e.Status().Syncing)
	rep := e.ForceSync(context.Background())
	assert.True(t, rep.Skipped)

	close(bb.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.False(t, e.Status().Syncing)
}

type countingObserver struct{ n atomic.Int32 }

func (c *countingObserver) OnSync(Report, time.Duration) { c.n.Add(1) }

func TestRunTicksOnNudge(t *testing.T) {
	o := openOutbox(t)
	seed(t, o, 1)
	bs := newBackendServer(t)
	obs := &countingObserver{}
	backend := httpadapter.NewBackend(http.DefaultClient, httpadapter.StaticToken("t"),
		ports.AgentMetadata{ServiceURL: bs.URL}, nil)
	e := New(o, backend, Config{InitialDelay: time.Hour, Interval: time.Hour}, nil, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	e.Nudge()
	e.Nudge()
	require.Eventually(t, func() bool { return obs.n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)

	cancel()
	assert.NoError(t, <-errc)
}
