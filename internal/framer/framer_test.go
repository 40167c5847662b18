package framer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(frags []Fragment) []string {
	var out []string
	for _, f := range frags {
		if f.Kind == KindLine {
			out = append(out, string(f.Data))
		}
	}
	return out
}

func assemblies(frags []Fragment) []Fragment {
	var out []Fragment
	for _, f := range frags {
		if f.Kind == KindAssembly {
			out = append(out, f)
		}
	}
	return out
}

func TestFeed_LinesSplitAcrossChunks(t *testing.T) {
	f := New(DefaultConfig())

	got := lines(f.Feed([]byte("<29>\r\nDaily In == 8")))
	assert.Equal(t, []string{"<29>"}, got)

	got = lines(f.Feed([]byte("97.00\r")))
	assert.Empty(t, got)

	got = lines(f.Feed([]byte("\n\r\nnext")))
	assert.Equal(t, []string{"Daily In == 897.00", ""}, got, "empty lines are forwarded")
	assert.Equal(t, 4, f.Pending())
}

func TestFeed_LongLineIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLineBytes = 8
	f := New(cfg)

	got := lines(f.Feed([]byte("0123456789abcdef01")))
	assert.Equal(t, []string{"01234567", "89abcdef"}, got)
	assert.Equal(t, 2, f.Pending())
}

func TestFeed_AssemblyClosedByTerminator(t *testing.T) {
	f := New(DefaultConfig())

	first := f.Feed([]byte("Voucher #123\r\n$50.00\r\n"))
	require.Empty(t, assemblies(first))
	require.True(t, f.AssemblyOpen())
	for _, fr := range first {
		assert.True(t, fr.InAssembly, "line %q should be flagged", fr.Data)
	}

	second := f.Feed([]byte("MACHINE NUMBER\r\n03\r\n\x1bP\x00"))
	require.Len(t, second, 3)
	assert.Equal(t, []string{"MACHINE NUMBER", "03"}, lines(second))
	assert.Equal(t, KindAssembly, second[2].Kind, "assembly follows the chunk's lines")
	assert.False(t, second[2].Expired)
	assert.Equal(t, "Voucher #123\r\n$50.00\r\nMACHINE NUMBER\r\n03\r\n\x1bP\x00", string(second[2].Data))
	assert.False(t, f.AssemblyOpen())
}

func TestFeed_TwoAssembliesInOneChunk(t *testing.T) {
	f := New(DefaultConfig())

	got := assemblies(f.Feed([]byte("Voucher #1 x\x1bPVoucher #2 y\x1bP")))
	require.Len(t, got, 2)
	assert.Equal(t, "Voucher #1 x\x1bP", string(got[0].Data))
	assert.Equal(t, "Voucher #2 y\x1bP", string(got[1].Data))
	assert.False(t, f.AssemblyOpen())
}

func TestFeed_MarkerSplitAcrossChunks(t *testing.T) {
	f := New(DefaultConfig())

	f.Feed([]byte("header VOUCH"))
	assert.False(t, f.AssemblyOpen())

	f.Feed([]byte("ER #9\r\n"))
	assert.True(t, f.AssemblyOpen())
}

func TestPending_CoversPartialMarker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLineBytes = 8
	f := New(cfg)

	// The line channel has already emitted most of the marker prefix.
	f.Feed([]byte("0123456789abVouch"))
	assert.False(t, f.AssemblyOpen())
	assert.Equal(t, len("Vouch"), f.Pending())

	// Resuming from the acknowledged offset still opens the receipt.
	g := New(cfg)
	g.Feed([]byte("Vouch"))
	g.Feed([]byte("er #9\r\n"))
	assert.True(t, g.AssemblyOpen())

	f.Feed([]byte("er #9\r\n"))
	assert.True(t, f.AssemblyOpen())
}

func TestFeed_TerminatorWithoutAssemblyIsIgnored(t *testing.T) {
	f := New(DefaultConfig())

	got := f.Feed([]byte("Daily In == 1.00\r\n\x1bP"))
	assert.Empty(t, assemblies(got))
	assert.False(t, f.AssemblyOpen())
}

func TestExpire_AssemblyTimeout(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := New(DefaultConfig(), WithClock(func() time.Time { return now }))

	f.Feed([]byte("MACHINE NUMBER\r\n"))
	d, ok := f.Deadline()
	require.True(t, ok)
	assert.Equal(t, now.Add(2000*time.Millisecond), d)

	_, ok = f.Expire(now.Add(1999 * time.Millisecond))
	assert.False(t, ok)

	fr, ok := f.Expire(now.Add(2000 * time.Millisecond))
	require.True(t, ok)
	assert.True(t, fr.Expired)
	assert.Equal(t, "MACHINE NUMBER\r\n", string(fr.Data))

	assert.False(t, f.AssemblyOpen())
	_, ok = f.Deadline()
	assert.False(t, ok)
	_, ok = f.Expire(now.Add(time.Hour))
	assert.False(t, ok, "exactly one result per assembly")
}

func TestFlush(t *testing.T) {
	f := New(DefaultConfig())
	f.Feed([]byte("Voucher #5\r\npartial"))

	got := f.Flush()
	require.Len(t, got, 2)
	assert.Equal(t, "partial", string(got[0].Data))
	assert.True(t, got[1].Expired)
	assert.Equal(t, 0, f.Pending())
}

type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	buf     bytes.Buffer
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func TestPassThrough_NeverBlocksFramer(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	pt := NewPassThrough(w, 1, nil)
	f := New(DefaultConfig(), WithPassThrough(pt))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.Feed([]byte("ab\r\n"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Feed blocked on the pass-through sink")
	}

	dropped := pt.Dropped()
	assert.GreaterOrEqual(t, dropped, int64(8))

	close(w.release)
	pt.Close()
	assert.Equal(t, int(10-dropped)*4, w.buf.Len())
}

func TestRun_ExpiresAssemblyAndAcksChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AssemblyTimeout = 50 * time.Millisecond
	f := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := make(chan Chunk)
	out := make(chan Fragment, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, in, out) }()

	acked := make(chan int, 1)
	in <- Chunk{Data: []byte("Voucher #7\r\nMACHINE"), Ack: func(p int) { acked <- p }}

	line := <-out
	assert.Equal(t, KindLine, line.Kind)
	assert.Equal(t, "Voucher #7", string(line.Data))

	cp := <-out
	require.Equal(t, KindCheckpoint, cp.Kind)
	cp.Ack()
	assert.Equal(t, len("Voucher #7\r\nMACHINE"), <-acked)

	var asm Fragment
	select {
	case asm = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("assembly was not expired")
	}
	assert.Equal(t, KindAssembly, asm.Kind)
	assert.True(t, asm.Expired)

	close(in)
	require.NoError(t, <-errCh)
	tailFrag := <-out
	assert.Equal(t, "MACHINE", string(tailFrag.Data))
}
