package sim

import (
	"context"
	"sync"

	"github.com/norasector/turbine-common/types"
)

// Transmitter records every sample it is asked to send.
type Transmitter struct {
	*Frontend

	mu       sync.Mutex
	received []complex64
	segments int
}

func NewTransmitter(dacRate float64, opts ...Option) *Transmitter {
	return &Transmitter{Frontend: newFrontend(dacRate, opts...)}
}

func (t *Transmitter) Start(ctx context.Context, complexSamples <-chan *types.SegmentComplex64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-complexSamples:
			if !ok {
				return nil
			}
			t.mu.Lock()
			t.received = append(t.received, seg.Data...)
			t.segments++
			t.mu.Unlock()
		}
	}
}

// Received returns a copy of everything transmitted so far.
func (t *Transmitter) Received() []complex64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]complex64, len(t.received))
	copy(out, t.received)
	return out
}

func (t *Transmitter) Segments() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.segments
}
