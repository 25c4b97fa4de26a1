// Package notify fans driver-assignment messages out to registered listeners.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// Listener receives driver-assignment notifications.
type Listener interface {
	DriverAssigned(ctx context.Context, driver domain.Driver, message string) error
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, driver domain.Driver, message string) error

// DriverAssigned calls f.
func (f ListenerFunc) DriverAssigned(ctx context.Context, driver domain.Driver, message string) error {
	return f(ctx, driver, message)
}

// Sink is an ordered list of listeners invoked synchronously. Every listener
// sees every notification even when an earlier listener fails.
type Sink struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewSink constructs a sink with the given listeners registered in order.
func NewSink(listeners ...Listener) *Sink {
	s := &Sink{}
	for _, l := range listeners {
		s.Register(l)
	}
	return s
}

// Register appends a listener. Nil listeners are ignored.
func (s *Sink) Register(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Len reports the number of registered listeners.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// NotifyAll delivers the message to each listener in registration order and
// returns the joined failures, if any.
func (s *Sink) NotifyAll(ctx context.Context, driver domain.Driver, message string) error {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	var errs []error
	for i, l := range listeners {
		if err := deliver(ctx, l, driver, message); err != nil {
			notificationFailures.Inc()
			errs = append(errs, fmt.Errorf("listener %d: %w", i, err))
			continue
		}
		notificationsDelivered.Inc()
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, l Listener, driver domain.Driver, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.DriverAssigned(ctx, driver, message)
}

var _ domain.Notifier = (*Sink)(nil)
