package framer

import (
	"context"
	"time"
)

// Chunk is one read from the byte source. Ack, when set, is called with the
// framer's Pending count once every fragment framed from the chunk has been
// handled downstream.
type Chunk struct {
	Data []byte
	Ack  func(pending int)
}

// Run frames chunks from in until in is closed or ctx ends, enforcing the
// assembly deadline with a timer. On close it flushes and returns nil.
func (f *Framer) Run(ctx context.Context, in <-chan Chunk, out chan<- Fragment) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var timerC <-chan time.Time

	send := func(fr Fragment) error {
		select {
		case out <- fr:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-in:
			if !ok {
				for _, fr := range f.Flush() {
					if err := send(fr); err != nil {
						return err
					}
				}
				return nil
			}
			for _, fr := range f.Feed(chunk.Data) {
				if err := send(fr); err != nil {
					return err
				}
			}
			if chunk.Ack != nil {
				pending, ack := f.Pending(), chunk.Ack
				if err := send(Fragment{Kind: KindCheckpoint, At: f.now(), ack: func() { ack(pending) }}); err != nil {
					return err
				}
			}

		case <-timerC:
			timerC = nil
			if fr, ok := f.Expire(f.now()); ok {
				if err := send(fr); err != nil {
					return err
				}
			}
		}

		if d, ok := f.Deadline(); ok {
			if timerC == nil {
				timer.Reset(time.Until(d))
				timerC = timer.C
			}
		} else if timerC != nil {
			timer.Stop()
			timerC = nil
		}
	}
}
