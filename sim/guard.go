package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// CollectionGuard scopes one collection pass over a supervisor session.
//
// Entering marks the session guarded. Exiting clears the mark, notifies every
// log writer that the pass ended exactly once, and turns ErrExhausted into a
// normal return. A guard is single-use.
type CollectionGuard struct {
	sess    *session
	writers []LogWriter
	log     *logrus.Entry
	entered bool
	exited  bool
}

// Enter marks the session guarded. It fails with ErrInvalidState if this
// guard was already used, another guard is active on the session, or the
// session is already terminal.
func (g *CollectionGuard) Enter() error {
	switch {
	case g.entered:
		return fmt.Errorf("collector guard re-entered: %w", ErrInvalidState)
	case g.sess.guarded:
		return fmt.Errorf("session %s already has an active collector guard: %w", g.sess.id, ErrInvalidState)
	case g.sess.terminal:
		return fmt.Errorf("collector guard on exhausted session %s: %w", g.sess.id, ErrInvalidState)
	}
	g.entered = true
	g.sess.guarded = true
	return nil
}

// Exit ends the pass. err is the outcome of the guarded body: ErrExhausted
// (or an error wrapping it) becomes nil, anything else is returned as is.
// Calling Exit on a guard that was never entered or already exited is a no-op
// returning err.
func (g *CollectionGuard) Exit(err error) error {
	if !g.entered || g.exited {
		return err
	}
	g.exited = true
	g.sess.guarded = false

	for _, w := range g.writers {
		w.OnPassComplete()
	}
	if errors.Is(err, ErrExhausted) {
		g.log.Debug("Collection pass ended by exhaustion")
		return nil
	}
	return err
}

// Run enters the guard, runs fn and exits, returning fn's error with
// exhaustion suppressed. If fn panics, the pass-complete notifications fire
// before the panic continues.
func (g *CollectionGuard) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := g.Enter(); err != nil {
		return err
	}
	finished := false
	defer func() {
		if !finished {
			g.Exit(nil)
		}
	}()
	err = fn(ctx)
	finished = true
	return g.Exit(err)
}
