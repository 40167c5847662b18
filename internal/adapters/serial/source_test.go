package serial

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/bft-labs/edgeship/internal/framer"
)

// fakePort serves queued chunks and then times out like a real port with
// a read timeout. Methods not overridden panic through the nil embed.
type fakePort struct {
	serial.Port

	mu      sync.Mutex
	reads   [][]byte
	readErr error
	written []byte
	failW   bool
	closed  bool
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if len(p.reads) > 0 {
		n := copy(b, p.reads[0])
		p.reads = p.reads[1:]
		p.mu.Unlock()
		return n, nil
	}
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failW {
		return 0, errors.New("write failed")
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func fastConfig() Config {
	return Config{
		Port:           "/dev/ttyTEST",
		ReadTimeout:    time.Millisecond,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func collect(t *testing.T, out <-chan framer.Chunk, want int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case c := <-out:
			got = append(got, string(c.Data))
		case <-deadline:
			t.Fatalf("received %d chunks, want %d", len(got), want)
		}
	}
	return got
}

func TestSource_RetriesUntilPortAppears(t *testing.T) {
	var attempts atomic.Int32
	port := &fakePort{reads: [][]byte{[]byte("Daily In: $1.00\r\n")}}
	open := func(name string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyTEST", name)
		assert.Equal(t, DefaultBaud, mode.BaudRate)
		if attempts.Add(1) < 3 {
			return nil, errors.New("no such device")
		}
		return port, nil
	}

	src := NewSource(fastConfig(), nil, WithOpener(open))
	assert.False(t, src.Connected())
	assert.True(t, src.LastDataReceived().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan framer.Chunk, 4)
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, out) }()

	got := collect(t, out, 1)
	assert.Equal(t, []string{"Daily In: $1.00\r\n"}, got)
	assert.True(t, src.Connected())
	assert.False(t, src.LastDataReceived().IsZero())
	assert.EqualValues(t, 3, attempts.Load())
	assert.Zero(t, src.Reconnects())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, src.Connected())
}

func TestSource_ReconnectsAfterReadError(t *testing.T) {
	ports := []*fakePort{
		{reads: [][]byte{[]byte("first")}, readErr: errors.New("device unplugged")},
		{reads: [][]byte{[]byte("second")}},
	}
	var mu sync.Mutex
	open := func(string, *serial.Mode) (serial.Port, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ports) == 0 {
			return nil, errors.New("gone")
		}
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}

	src := NewSource(fastConfig(), nil, WithOpener(open))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan framer.Chunk, 4)
	go func() { _ = src.Stream(ctx, out) }()

	assert.Equal(t, []string{"first", "second"}, collect(t, out, 2))
	assert.EqualValues(t, 1, src.Reconnects())
}

func TestSource_StopsWhileWaitingForPort(t *testing.T) {
	open := func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("no such device")
	}
	cfg := fastConfig()
	cfg.BackoffInitial = time.Hour
	cfg.BackoffMax = time.Hour
	src := NewSource(cfg, nil, WithOpener(open))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, make(chan framer.Chunk)) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}

func TestPrinter_NonFatalFailures(t *testing.T) {
	port := &fakePort{}
	var opens int
	fail := true
	open := func(string, *serial.Mode) (serial.Port, error) {
		opens++
		if fail {
			return nil, errors.New("no printer")
		}
		return port, nil
	}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	p := NewPrinter("/dev/ttyPRN", 0, open)
	p.now = func() time.Time { return now }

	_, err := p.Write([]byte("a"))
	require.Error(t, err)

	// Inside the backoff window no open is attempted.
	_, err = p.Write([]byte("b"))
	require.Error(t, err)
	assert.Equal(t, 1, opens)

	fail = false
	now = now.Add(time.Second)
	n, err := p.Write([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "c", string(port.written))

	port.failW = true
	_, err = p.Write([]byte("d"))
	require.Error(t, err)
	assert.True(t, port.closed)

	require.NoError(t, p.Close())
	_, err = p.Write([]byte("e"))
	assert.ErrorIs(t, err, ErrPrinterClosed)
}
