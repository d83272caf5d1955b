package omnihack

import (
	"context"
	"time"

	"github.com/norasector/turbine-common/types"
)

// throttle forwards segments no faster than sampleRate. It returns when in
// is closed, after closing out.
func throttle(ctx context.Context, sampleRate float64, in <-chan *types.SegmentComplex64, out chan<- *types.SegmentComplex64) error {
	defer close(out)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-in:
			if !ok {
				return nil
			}

			if wait := time.Until(next); wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			} else {
				// fell behind; don't burst to catch up
				next = time.Now()
			}
			next = next.Add(time.Duration(float64(len(seg.Data)) / sampleRate * float64(time.Second)))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- seg:
			}
		}
	}
}
