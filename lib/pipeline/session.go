package pipeline

import (
	"context"
	"fmt"
)

// Session is an owned, stateful handle to the remote source. Bound to
// exactly one worker at a time; once invalidated it is closed and
// replaced, never reused.
type Session interface {
	Close()
}

// Factory constructs a fresh session, e.g. an http client carrying a
// newly loaded authentication state.
type Factory func(ctx context.Context) (Session, error)

// Pool bounds the number of concurrently live sessions and enforces the
// per-session usage budget.
type Pool struct {
	factory Factory
	budget  int
	slots   chan struct{}
}

func NewPool(factory Factory, size, budget int) *Pool {
	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &Pool{
		factory: factory,
		budget:  budget,
		slots:   slots,
	}
}

// Acquire blocks until a slot is free, then constructs a session for
// it. Construction failure frees the slot and is reported as a
// construction error.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	session, err := p.factory(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, &Error{Kind: KindConstruction, Err: err}
	}
	return &Lease{pool: p, session: session}, nil
}

// Lease is one worker's exclusive hold on a pool slot and its current
// session.
type Lease struct {
	pool     *Pool
	session  Session
	used     int
	released bool
}

func (l *Lease) Session() Session {
	return l.session
}

// Use records that one work unit was processed on the current session.
func (l *Lease) Use() {
	l.used++
}

// ShouldRecycle reports whether the current session has exhausted its
// budget and must be replaced before the next unit.
func (l *Lease) ShouldRecycle() bool {
	return l.pool.budget > 0 && l.used >= l.pool.budget
}

// Recycle tears the current session down and constructs a fresh one on
// the same slot, resetting the usage counter. On construction failure
// the lease is released and the caller must abort its loop.
func (l *Lease) Recycle(ctx context.Context) error {
	if l.released {
		return fmt.Errorf("recycle on a released lease")
	}
	l.session.Close()
	l.session = nil
	l.used = 0

	session, err := l.pool.factory(ctx)
	if err != nil {
		l.released = true
		l.pool.slots <- struct{}{}
		return &Error{Kind: KindConstruction, Err: err}
	}
	l.session = session
	return nil
}

// Release closes the held session and frees the slot. Safe to call
// after a failed Recycle; a lease never leaks its slot.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	if l.session != nil {
		l.session.Close()
		l.session = nil
	}
	l.pool.slots <- struct{}{}
}
