// Implements the WorkerSupervisor, which runs a fixed pool of workers under a
// batched reset/step contract while the work behind them is finite.
//
// Callers always address all N slots. The supervisor forwards only the slots
// still alive, retires a slot the first time it reports the sentinel, and
// rebuilds a full-width answer by filling the other positions with copies of
// cached defaults. Once every slot is retired the session is terminal.

package sim

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SlotState is the per-slot state within a session.
type SlotState int

const (
	SlotAlive SlotState = iota
	SlotRetired
)

func (s SlotState) String() string {
	if s == SlotAlive {
		return "alive"
	}
	return "retired"
}

// session holds the state of one collection pass. It is owned by the
// supervisor and never shared with workers.
type session struct {
	id       uuid.UUID
	slots    []SlotState
	alive    int
	terminal bool
	guarded  bool
	warned   bool // missing-guard warning already emitted

	defaultObs    Value
	hasDefaultObs bool
	sentinel      Value // first sentinel seen; filler until a real observation arrives
	hasSentinel   bool
	defaultReward float64
	defaultInfo   Info
	hasDefaultRew bool
	hasDefaultInf bool
}

func newSession(n int) *session {
	return &session{id: uuid.New(), slots: make([]SlotState, n)}
}

// refill revives every slot if none is alive. It only has an effect before
// the first reset of a session: a session that emptied its alive set is
// terminal and never reaches here.
func (s *session) refill() {
	if s.alive > 0 {
		return
	}
	for i := range s.slots {
		s.slots[i] = SlotAlive
	}
	s.alive = len(s.slots)
}

// noteSentinel caches the first sentinel reported in the session.
func (s *session) noteSentinel(v Value) {
	if !s.hasSentinel {
		s.sentinel, s.hasSentinel = v.Clone(), true
	}
}

// filler returns the observation for positions no worker answered: the
// cached default once a real observation was seen, the sentinel before that.
func (s *session) filler() Value {
	if s.hasDefaultObs || !s.hasSentinel {
		return s.defaultObs.Clone()
	}
	return s.sentinel.Clone()
}

func (s *session) retire(i int) bool {
	if s.slots[i] != SlotAlive {
		return false
	}
	s.slots[i] = SlotRetired
	s.alive--
	return true
}

// WorkerSupervisor batches reset/step calls across a fixed pool of worker slots.
//
// Thread-safety: NOT thread-safe. All methods must be called from the
// orchestrating goroutine; concurrency across workers is the Strategy's job.
type WorkerSupervisor[A any] struct {
	workers  []Worker[A]
	strategy Strategy[A]
	writers  []LogWriter
	sess     *session
	log      *logrus.Entry
}

// NewWorkerSupervisor creates a supervisor with one slot per worker.
// Nil log writers are dropped. Panics if workers is empty or strategy is nil.
func NewWorkerSupervisor[A any](workers []Worker[A], strategy Strategy[A], writers ...LogWriter) *WorkerSupervisor[A] {
	if len(workers) == 0 {
		panic("NewWorkerSupervisor: at least one worker is required")
	}
	if strategy == nil {
		panic("NewWorkerSupervisor: strategy must not be nil")
	}
	filtered := make([]LogWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}
	s := &WorkerSupervisor[A]{
		workers:  workers,
		strategy: strategy,
		writers:  filtered,
		sess:     newSession(len(workers)),
	}
	s.log = logrus.WithField("session", s.sess.id.String())
	return s
}

// NumSlots returns the configured worker count N.
func (s *WorkerSupervisor[A]) NumSlots() int {
	return len(s.workers)
}

// AliveCount returns the number of slots still expected to produce work.
// Before the first reset every slot counts as alive.
func (s *WorkerSupervisor[A]) AliveCount() int {
	if s.sess.alive == 0 && !s.sess.terminal {
		return len(s.workers)
	}
	return s.sess.alive
}

// SlotState returns the state of slot i.
func (s *WorkerSupervisor[A]) SlotState(i int) SlotState {
	if s.sess.alive == 0 && !s.sess.terminal {
		return SlotAlive
	}
	return s.sess.slots[i]
}

// Terminal reports whether the session has exhausted every slot.
func (s *WorkerSupervisor[A]) Terminal() bool {
	return s.sess.terminal
}

// SessionID identifies the current session in logs.
func (s *WorkerSupervisor[A]) SessionID() uuid.UUID {
	return s.sess.id
}

// Strategy returns the execution strategy name.
func (s *WorkerSupervisor[A]) Strategy() string {
	return s.strategy.Name()
}

// Reset resets the alive slots among ids (nil means all slots) and returns
// one observation per requested id, in request order. Retired and freshly
// exhausted slots are filled with a copy of the session's default
// observation, or of the sentinel while no real observation has been seen. Returns ErrExhausted when the call retires the last alive slot.
func (s *WorkerSupervisor[A]) Reset(ctx context.Context, ids []int) ([]Value, error) {
	if err := s.enter("reset"); err != nil {
		return nil, err
	}
	ids, err := s.wrapIDs(ids)
	if err != nil {
		return nil, err
	}
	sess := s.sess
	sess.refill()

	request, positions := s.partition(ids)
	obs := make([]Value, len(ids))
	filled := make([]bool, len(ids))
	if len(request) > 0 {
		got, err := s.strategy.Reset(ctx, s.workers, request)
		if err != nil {
			return nil, err
		}
		for k, id := range request {
			o := got[k]
			if IsSentinel(o) {
				sess.noteSentinel(o)
				s.retire(id)
				continue
			}
			obs[positions[k]] = o
			filled[positions[k]] = true
			for _, w := range s.writers {
				w.OnSlotReset(id, o)
			}
		}
	}

	for k := range ids {
		if filled[k] && !sess.hasDefaultObs {
			sess.defaultObs = obs[k].Clone()
			sess.hasDefaultObs = true
		}
	}
	for k := range ids {
		if !filled[k] {
			obs[k] = sess.filler()
		}
	}

	if sess.alive == 0 {
		return nil, s.terminate()
	}
	return obs, nil
}

// Step advances the alive slots among ids (nil means all slots) by the
// matching entries of actions and returns one transition per requested id.
// Positions of retired slots get copies of the cached default observation,
// reward and info with Done false. A worker reporting the sentinel
// observation is retired. Returns ErrExhausted when the call retires the
// last alive slot.
func (s *WorkerSupervisor[A]) Step(ctx context.Context, actions []A, ids []int) ([]Transition, error) {
	if err := s.enter("step"); err != nil {
		return nil, err
	}
	ids, err := s.wrapIDs(ids)
	if err != nil {
		return nil, err
	}
	if len(actions) != len(ids) {
		return nil, fmt.Errorf("%d actions for %d slots: %w", len(actions), len(ids), ErrActionCount)
	}
	sess := s.sess
	sess.refill()

	request, positions := s.partition(ids)
	out := make([]Transition, len(ids))
	filled := make([]bool, len(ids))
	if len(request) > 0 {
		valid := make([]A, len(request))
		for k := range request {
			valid[k] = actions[positions[k]]
		}
		got, err := s.strategy.Step(ctx, s.workers, valid, request)
		if err != nil {
			return nil, err
		}
		for k, id := range request {
			tr := got[k]
			if IsSentinel(tr.Obs) {
				sess.noteSentinel(tr.Obs)
				s.retire(id)
				continue
			}
			out[positions[k]] = tr
			filled[positions[k]] = true
			for _, w := range s.writers {
				w.OnSlotStep(id, tr.Obs, tr.Reward, tr.Done, tr.Info)
			}
		}
	}

	for k := range ids {
		if !filled[k] {
			continue
		}
		tr := out[k]
		if !sess.hasDefaultObs {
			sess.defaultObs, sess.hasDefaultObs = tr.Obs.Clone(), true
		}
		if !sess.hasDefaultRew {
			sess.defaultReward, sess.hasDefaultRew = tr.Reward, true
		}
		if !sess.hasDefaultInf && tr.Info != nil {
			sess.defaultInfo, sess.hasDefaultInf = tr.Info.Clone(), true
		}
	}
	for k := range ids {
		if !filled[k] {
			out[k] = Transition{
				Obs:    sess.filler(),
				Reward: sess.defaultReward,
				Info:   sess.defaultInfo.Clone(),
			}
		}
	}

	if sess.alive == 0 {
		return nil, s.terminate()
	}
	return out, nil
}

// CollectorGuard returns a single-use guard scoping one collection pass.
func (s *WorkerSupervisor[A]) CollectorGuard() *CollectionGuard {
	return &CollectionGuard{sess: s.sess, writers: s.writers, log: s.log}
}

// Collect runs fn inside a fresh collector guard; see CollectionGuard.Run.
func (s *WorkerSupervisor[A]) Collect(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.CollectorGuard().Run(ctx, fn)
}

func (s *WorkerSupervisor[A]) enter(op string) error {
	sess := s.sess
	if sess.terminal {
		return fmt.Errorf("%s on exhausted session %s: %w", op, sess.id, ErrInvalidState)
	}
	if !sess.guarded && !sess.warned {
		sess.warned = true
		s.log.Warnf("Supervisor %s called outside a collector guard; "+
			"exhaustion will surface as an error and pass-complete logs will not fire", op)
	}
	return nil
}

func (s *WorkerSupervisor[A]) wrapIDs(ids []int) ([]int, error) {
	if ids == nil {
		all := make([]int, len(s.workers))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, id := range ids {
		if id < 0 || id >= len(s.workers) {
			return nil, fmt.Errorf("slot %d of %d: %w", id, len(s.workers), ErrSlotIndex)
		}
	}
	return ids, nil
}

// partition returns the alive ids among ids (deduplicated, request order)
// and, for each, its position in ids.
func (s *WorkerSupervisor[A]) partition(ids []int) (request []int, positions []int) {
	seen := make(map[int]bool, len(ids))
	for k, id := range ids {
		if s.sess.slots[id] != SlotAlive || seen[id] {
			continue
		}
		seen[id] = true
		request = append(request, id)
		positions = append(positions, k)
	}
	return request, positions
}

func (s *WorkerSupervisor[A]) retire(id int) {
	if !s.sess.retire(id) {
		return
	}
	s.log.WithField("slot", id).Debugf("Slot retired, %d still alive", s.sess.alive)
	for _, w := range s.writers {
		if rw, ok := w.(RetireWriter); ok {
			rw.OnSlotRetired(id)
		}
	}
}

func (s *WorkerSupervisor[A]) terminate() error {
	s.sess.terminal = true
	s.log.Debug("All slots retired, session is terminal")
	return ErrExhausted
}
