package app

import (
	"errors"
	"sync"

	"github.com/layer-3/passport/connector"
	"github.com/layer-3/passport/core"
)

// Entry is a completed connection offered to a race.
type Entry struct {
	Connector *connector.Connector
	Session   core.CurrentSession
}

// ConnectionRace accepts the first connection completed among several
// concurrent attempts. Later completions are refused; the race decides
// without failure once every attempt has reported.
type ConnectionRace struct {
	mu       sync.Mutex
	expected int
	reported int
	accepted int
	winner   *Entry
	errs     []error
	done     chan struct{}
	closed   bool
}

// NewConnectionRace creates a race among expected attempts.
func NewConnectionRace(expected int) *ConnectionRace {
	r := &ConnectionRace{expected: expected, done: make(chan struct{})}
	if expected <= 0 {
		r.finish()
	}
	return r
}

// Offer reports a completed connection and whether it won.
func (r *ConnectionRace) Offer(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reported++
	if r.winner != nil || r.closed {
		return false
	}
	r.winner = &e
	r.accepted++
	r.finish()
	return true
}

// Fail reports a failed attempt.
func (r *ConnectionRace) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reported++
	r.errs = append(r.errs, err)
	if r.reported >= r.expected {
		r.finish()
	}
}

// Abandon decides the race without winner. Offers made afterwards are
// refused, so their connections are dropped by whoever offered them.
func (r *ConnectionRace) Abandon(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.errs = append(r.errs, err)
	r.finish()
}

func (r *ConnectionRace) finish() {
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// Done is closed once a winner is accepted or every attempt failed.
func (r *ConnectionRace) Done() <-chan struct{} {
	return r.done
}

// Winner returns the accepted connection.
func (r *ConnectionRace) Winner() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.winner == nil {
		return Entry{}, false
	}
	return *r.winner, true
}

// Err joins the failures of a race without winner.
func (r *ConnectionRace) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.winner != nil {
		return nil
	}
	if len(r.errs) == 0 {
		return core.ErrConnectionEstablishmentFailed
	}
	return errors.Join(r.errs...)
}

// ConnectionCount is the number of accepted connections, never above one.
func (r *ConnectionRace) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}
