package notify

import (
	"context"
	"sync/atomic"

	"lazythumb/internal/item"
)

// State is a subscription's lifecycle position.
type State int32

const (
	// StateIdle means the worker has not started yet.
	StateIdle State = iota
	// StateActive means the worker is observing the item.
	StateActive
	// StateCancelled is terminal, reached by Cancel or by the stream ending.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return "cancelled"
	}
}

// Type names the kind of subscription, used for metrics and logs.
type Type string

const (
	TypeItem       Type = "item"
	TypeCompletion Type = "completion"
	TypeDirectory  Type = "directory"
)

// Subscription is the caller-owned handle for one stream.
type Subscription struct {
	typ    Type
	ref    item.Ref
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

func newSubscription(typ Type, ref item.Ref, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		typ:    typ,
		ref:    ref,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel stops the stream and waits for its worker to exit. No event is
// delivered after Cancel returns. Calling it more than once is safe.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the stream has ended, however it ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// State reports the lifecycle position.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Ref returns the observed item.
func (s *Subscription) Ref() item.Ref {
	return s.ref
}

// Type returns the subscription type.
func (s *Subscription) Type() Type {
	return s.typ
}

func (s *Subscription) activate() bool {
	return s.state.CompareAndSwap(int32(StateIdle), int32(StateActive))
}

func (s *Subscription) finish() {
	s.state.Store(int32(StateCancelled))
}
