package framer

import (
	"io"
	"sync"
	"sync/atomic"
)

// PassThrough forwards raw chunks to a writer (the printer echo port) from
// its own goroutine. Offer never blocks: when the queue is full the chunk
// is dropped and counted.
type PassThrough struct {
	w       io.Writer
	queue   chan []byte
	dropped atomic.Int64
	failed  atomic.Int64
	onErr   func(error)

	once sync.Once
	done chan struct{}
}

// NewPassThrough starts a forwarder with the given queue depth. onErr may
// be nil.
func NewPassThrough(w io.Writer, depth int, onErr func(error)) *PassThrough {
	if depth <= 0 {
		depth = 64
	}
	p := &PassThrough{
		w:     w,
		queue: make(chan []byte, depth),
		onErr: onErr,
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *PassThrough) loop() {
	defer close(p.done)
	for chunk := range p.queue {
		if _, err := p.w.Write(chunk); err != nil {
			p.failed.Add(1)
			if p.onErr != nil {
				p.onErr(err)
			}
		}
	}
}

// Offer queues a copy of chunk for writing.
func (p *PassThrough) Offer(chunk []byte) {
	select {
	case p.queue <- append([]byte(nil), chunk...):
	default:
		p.dropped.Add(1)
	}
}

// Dropped is the number of chunks discarded because the queue was full.
func (p *PassThrough) Dropped() int64 { return p.dropped.Load() }

// Failed is the number of chunks the writer rejected.
func (p *PassThrough) Failed() int64 { return p.failed.Load() }

// Close drains the queue and stops the forwarder. Offer must not be called
// after Close.
func (p *PassThrough) Close() {
	p.once.Do(func() { close(p.queue) })
	<-p.done
}
