package sim

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/norasector/turbine-common/types"
)

// Receiver replays canned segments, or paced silence when none are given.
type Receiver struct {
	*Frontend

	mu       sync.Mutex
	segments [][]complex64
	finite   bool
	starts   int
	failWith error
}

func NewReceiver(adcRate float64, opts ...Option) *Receiver {
	return &Receiver{Frontend: newFrontend(adcRate, opts...)}
}

// Feed queues segments for the next Start. When finite is set, Start
// returns io.EOF once they are sent; otherwise it idles until cancelled.
func (r *Receiver) Feed(finite bool, segments ...[]complex64) {
	r.mu.Lock()
	r.segments = append(r.segments, segments...)
	r.finite = finite
	r.mu.Unlock()
}

// FailWith makes the next Start return err after the queued segments.
func (r *Receiver) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Starts counts how many times the stream was started.
func (r *Receiver) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

func (r *Receiver) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	r.mu.Lock()
	r.starts++
	segments := r.segments
	r.segments = nil
	finite := r.finite
	failWith := r.failWith
	r.failWith = nil
	r.mu.Unlock()

	for i, data := range segments {
		seg := &types.SegmentComplex64{Data: data, SegmentNumber: i + 1}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case complexSamples <- seg:
		}
	}

	if failWith != nil {
		return failWith
	}
	if finite {
		return io.EOF
	}
	if len(segments) > 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	return r.silence(ctx, complexSamples)
}

func (r *Receiver) silence(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	size := r.Frontend.segmentSize
	interval := time.Duration(float64(size) / r.SampleRate() * float64(time.Second))
	tick := time.NewTicker(interval)
	defer tick.Stop()

	segNum := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			segNum++
			seg := &types.SegmentComplex64{Data: make([]complex64, size), SegmentNumber: segNum}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case complexSamples <- seg:
			}
		}
	}
}
