package omnihack

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transceiver is the control surface: lifecycle on the signal path and
// protocol parameters on the engine. Parameters are passed through
// unvalidated; the engine decides whether to accept them.
type Transceiver struct {
	path    *SignalPath
	engine  Engine
	closers []io.Closer
	logger  zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

type TransceiverOption func(t *Transceiver)

func WithTransceiverLogger(logger zerolog.Logger) TransceiverOption {
	return func(t *Transceiver) {
		t.logger = logger
	}
}

// WithClosers registers devices released by Close. The same closer passed
// twice is closed once.
func WithClosers(closers ...io.Closer) TransceiverOption {
	return func(t *Transceiver) {
		for _, c := range closers {
			if c == nil {
				continue
			}
			dup := false
			for _, existing := range t.closers {
				if existing == c {
					dup = true
					break
				}
			}
			if !dup {
				t.closers = append(t.closers, c)
			}
		}
	}
}

func NewTransceiver(path *SignalPath, engine Engine, opts ...TransceiverOption) *Transceiver {
	t := &Transceiver{
		path:   path,
		engine: engine,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transceiver) Start(ctx context.Context) error {
	return t.path.Start(ctx)
}

func (t *Transceiver) Stop() error {
	return t.path.Stop()
}

func (t *Transceiver) Wait() error {
	return t.path.Wait()
}

func (t *Transceiver) State() State {
	return t.path.State()
}

func (t *Transceiver) Topology() Topology {
	return t.path.Topology()
}

// Toggle starts a stopped transceiver, or stops a running one and waits
// for it to wind down. It returns the resulting state.
func (t *Transceiver) Toggle(ctx context.Context) (State, error) {
	switch t.path.State() {
	case StateStopped:
		if err := t.path.Start(ctx); err != nil {
			return t.path.State(), err
		}
	case StateRunning:
		if err := t.path.Stop(); err != nil {
			return t.path.State(), err
		}
		fallthrough
	case StateStopping:
		if err := t.path.Wait(); err != nil {
			return t.path.State(), err
		}
	}
	return t.path.State(), nil
}

func (t *Transceiver) SetMonitorMode(on bool) {
	t.logger.Debug().Bool("monitor", on).Msg("set monitor mode")
	t.engine.SetMonitor(on)
}

func (t *Transceiver) SetSecret(secret uint32) {
	t.logger.Debug().Uint32("secret", secret).Msg("set secret")
	t.engine.SetSecret(secret)
}

func (t *Transceiver) SetSeqno(seqno uint8) {
	t.logger.Debug().Uint8("seqno", seqno).Msg("set seqno")
	t.engine.SetSeqno(seqno)
}

func (t *Transceiver) StartStatusExchange() {
	t.logger.Debug().Msg("start status exchange")
	t.engine.StartStatus()
}

// Close stops a running path, waits for it and releases the devices.
func (t *Transceiver) Close() error {
	t.closeOnce.Do(func() {
		if t.path.State() == StateRunning {
			t.path.Stop()
		}
		if err := t.path.Wait(); err != nil {
			t.logger.Warn().Err(err).Msg("signal path ended with error")
		}

		for _, c := range t.closers {
			if err := c.Close(); err != nil {
				t.logger.Error().Err(err).Msg("error closing device")
				if t.closeErr == nil {
					t.closeErr = err
				}
			}
		}
	})
	return t.closeErr
}
