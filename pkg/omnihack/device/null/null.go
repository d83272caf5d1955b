package null

import (
	"context"
	"sync/atomic"

	"github.com/norasector/turbine-common/types"
)

// Sink discards everything it receives.
type Sink struct {
	discarded int64
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Start(ctx context.Context, complexSamples <-chan *types.SegmentComplex64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-complexSamples:
			if !ok {
				return nil
			}
			atomic.AddInt64(&s.discarded, int64(len(seg.Data)))
		}
	}
}

// Discarded is the number of samples thrown away so far.
func (s *Sink) Discarded() int64 {
	return atomic.LoadInt64(&s.discarded)
}
