package omnihack

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("signal path already running")
	ErrNotRunning     = errors.New("signal path not running")
	ErrStillRunning   = errors.New("signal path still running; stop it first")
	ErrRateMismatch   = errors.New("rate mismatch")
)

type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Topology selects how the transmit side is fed.
type Topology int

const (
	// TopologyLive transmits what the engine produces.
	TopologyLive Topology = iota
	// TopologyReplay transmits a recording, paced to the sample rate,
	// while the engine keeps decoding and its output is discarded.
	TopologyReplay
)

func (t Topology) String() string {
	switch t {
	case TopologyLive:
		return "live"
	case TopologyReplay:
		return "replay"
	}
	return fmt.Sprintf("topology(%d)", int(t))
}
