package omnihack

import (
	"github.com/norasector/omnihack/pkg/omnihack/event"
)

// Engine is the protocol decoder at the end of the receive chain. It turns
// received samples into transmit samples at the same rate and reports what
// it sees through the event.Poster it was built with. The setters are
// called from control goroutines while WorkBuffer runs on the streaming
// goroutine.
type Engine interface {
	WorkBuffer(input []complex64, output []complex64) int
	PredictOutputSize(int) int

	SetMonitor(on bool)
	SetSecret(secret uint32)
	SetSeqno(seqno uint8)
	StartStatus()
}

// EngineFactory builds an Engine for a sample rate.
type EngineFactory func(sampleRate float64, poster event.Poster) (Engine, error)
