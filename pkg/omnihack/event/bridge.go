package event

import (
	"context"
	"errors"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
)

var ErrObserverRegistered = errors.New("an observer is already registered")

// Stats are cumulative counters since the bridge was created.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dropped   uint64
}

// Bridge is an unbounded FIFO between any number of producers and one
// registered observer.
type Bridge struct {
	mu       sync.Mutex
	observer Observer
	// bumped on every Register and Unregister
	gen    uint64
	queue  []Event
	notify chan struct{}

	// serializes delivery so Run and Drain never interleave
	deliverMu sync.Mutex

	stats Stats

	logger   zerolog.Logger
	writeAPI api.WriteAPI
}

type BridgeOption func(b *Bridge)

func WithLogger(logger zerolog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithWriteAPI reports queue depth and counters whenever Run flushes a
// batch.
func WithWriteAPI(writeAPI api.WriteAPI) BridgeOption {
	return func(b *Bridge) {
		b.writeAPI = writeAPI
	}
}

func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		notify: make(chan struct{}, 1),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Post enqueues ev for the registered observer. It never blocks on the
// consumer. Events posted while nothing is registered are dropped.
func (b *Bridge) Post(ev Event) {
	b.mu.Lock()
	if b.observer == nil {
		b.stats.Dropped++
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ev)
	b.stats.Posted++
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Register installs the single observer.
func (b *Bridge) Register(obs Observer) error {
	if obs == nil {
		return errors.New("nil observer")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.observer != nil {
		return ErrObserverRegistered
	}
	b.observer = obs
	b.gen++
	return nil
}

// Unregister removes the observer and discards anything still queued.
func (b *Bridge) Unregister() {
	b.mu.Lock()
	b.observer = nil
	b.gen++
	b.stats.Dropped += uint64(len(b.queue))
	b.queue = nil
	b.mu.Unlock()
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Pending is the number of queued, undelivered events.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Drain delivers everything queued so far and returns how many events were
// delivered. It is meant for consumers that poll from their own loop.
func (b *Bridge) Drain() int {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	delivered := 0
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		obs, gen := b.observer, b.gen
		b.mu.Unlock()

		if len(batch) == 0 {
			return delivered
		}

		for i, ev := range batch {
			// observer swapped out mid-batch: the remainder belongs to nobody
			if b.generation() != gen {
				b.mu.Lock()
				b.stats.Dropped += uint64(len(batch) - i)
				b.mu.Unlock()
				break
			}
			dispatch(obs, ev)
			delivered++
			b.mu.Lock()
			b.stats.Delivered++
			b.mu.Unlock()
		}
	}
}

func (b *Bridge) generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Run delivers events as they arrive until ctx is done, then delivers what
// is left and returns.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.Drain()
			return nil
		case <-b.notify:
			n := b.Drain()
			if n > 0 {
				b.report(n)
			}
		}
	}
}

func (b *Bridge) report(n int) {
	if b.writeAPI == nil {
		return
	}
	stats := b.Stats()
	pending := b.Pending()
	go b.writeAPI.WritePoint(influxdb2.NewPoint("events.bridge",
		nil,
		map[string]interface{}{
			"batch":     n,
			"pending":   pending,
			"posted":    int64(stats.Posted),
			"delivered": int64(stats.Delivered),
			"dropped":   int64(stats.Dropped),
		},
		time.Now()))
}
