// Package event carries decoder output from the streaming goroutines to a
// single consumer. Posting never waits for the consumer; delivery happens
// on the consumer's goroutine in exactly the order events were posted.
package event

import (
	"fmt"
	"time"
)

type Kind int

const (
	KindData Kind = iota
	KindStatus
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStatus:
		return "status"
	case KindFault:
		return "fault"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is immutable once posted.
type Event struct {
	Kind    Kind
	Payload string
	Time    time.Time
}

func Data(payload string) Event {
	return Event{Kind: KindData, Payload: payload, Time: time.Now()}
}

func Status(payload string) Event {
	return Event{Kind: KindStatus, Payload: payload, Time: time.Now()}
}

func Fault(payload string) Event {
	return Event{Kind: KindFault, Payload: payload, Time: time.Now()}
}

// Poster is the producer half of a Bridge. Engines and pipeline stages
// only ever see this.
type Poster interface {
	Post(ev Event)
}

// Observer receives events on the consumer goroutine.
type Observer interface {
	OnData(payload string)
	OnStatus(payload string)
}

// FaultObserver is implemented by observers that want faults separately.
// Observers without it get faults through OnStatus.
type FaultObserver interface {
	OnFault(payload string)
}

// EventObserver is implemented by observers that want the whole event,
// including the time it was posted. It takes precedence over the
// per-kind methods.
type EventObserver interface {
	OnEvent(ev Event)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) OnData(payload string) {
	for _, obs := range o {
		obs.OnData(payload)
	}
}

func (o Observers) OnStatus(payload string) {
	for _, obs := range o {
		obs.OnStatus(payload)
	}
}

func (o Observers) OnFault(payload string) {
	for _, obs := range o {
		dispatch(obs, Event{Kind: KindFault, Payload: payload})
	}
}

// OnEvent hands ev unchanged to every observer.
func (o Observers) OnEvent(ev Event) {
	for _, obs := range o {
		dispatch(obs, ev)
	}
}

func dispatch(obs Observer, ev Event) {
	if eo, ok := obs.(EventObserver); ok {
		eo.OnEvent(ev)
		return
	}
	switch ev.Kind {
	case KindData:
		obs.OnData(ev.Payload)
	case KindStatus:
		obs.OnStatus(ev.Payload)
	case KindFault:
		if fo, ok := obs.(FaultObserver); ok {
			fo.OnFault(ev.Payload)
		} else {
			obs.OnStatus(ev.Payload)
		}
	}
}

// Func adapts plain functions to Observer and FaultObserver. A nil OnFault
// sends faults to OnStatus.
type Func struct {
	Data   func(string)
	Status func(string)
	Fault  func(string)
}

func (f Func) OnData(payload string) {
	if f.Data != nil {
		f.Data(payload)
	}
}

func (f Func) OnStatus(payload string) {
	if f.Status != nil {
		f.Status(payload)
	}
}

func (f Func) OnFault(payload string) {
	if f.Fault != nil {
		f.Fault(payload)
		return
	}
	f.OnStatus(payload)
}
