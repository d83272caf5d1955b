package radio

import (
	"fmt"
)

// Kind classifies configuration failures.
type Kind int

const (
	KindNoSuitableHardware Kind = iota + 1
	KindInvalidSubdevice
	KindHardwareOpen
	KindTuningFailed
	KindUnbalancedRates
	KindUnrecognizedArguments
)

func (k Kind) String() string {
	switch k {
	case KindNoSuitableHardware:
		return "no suitable hardware"
	case KindInvalidSubdevice:
		return "invalid subdevice"
	case KindHardwareOpen:
		return "hardware open failed"
	case KindTuningFailed:
		return "tuning failed"
	case KindUnbalancedRates:
		return "unbalanced rates"
	case KindUnrecognizedArguments:
		return "unrecognized arguments"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether the transceiver cannot come up after this failure.
// Every configuration kind is fatal; whether to exit is up to the caller.
func (k Kind) Fatal() bool {
	return k >= KindNoSuitableHardware && k <= KindUnrecognizedArguments
}

// Error is returned by every step of the configuration phase.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so callers can compare against
// the Err* values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Fatal() bool {
	return e.Kind.Fatal()
}

var (
	ErrNoSuitableHardware    = &Error{Kind: KindNoSuitableHardware}
	ErrInvalidSubdevice      = &Error{Kind: KindInvalidSubdevice}
	ErrHardwareOpen          = &Error{Kind: KindHardwareOpen}
	ErrTuningFailed          = &Error{Kind: KindTuningFailed}
	ErrUnbalancedRates       = &Error{Kind: KindUnbalancedRates}
	ErrUnrecognizedArguments = &Error{Kind: KindUnrecognizedArguments}
)

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// OpenError wraps a device open failure.
func OpenError(err error, format string, args ...interface{}) error {
	return newError(KindHardwareOpen, err, format, args...)
}

// ArgumentsError reports leftover or unparseable startup arguments.
func ArgumentsError(err error, format string, args ...interface{}) error {
	return newError(KindUnrecognizedArguments, err, format, args...)
}
