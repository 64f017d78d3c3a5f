// Implements the WorkQueue, which distributes a finite collection of work
// items to concurrently pulling workers. One producer goroutine reads the
// source (optionally shuffled, optionally repeated) into a bounded buffer.

package sim

import (
	"context"
	"fmt"
	"iter"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Source is a finite, indexable collection of work items.
type Source[T any] interface {
	Len() int
	At(i int) T
}

// SliceSource adapts a slice to Source.
type SliceSource[T any] []T

// Len returns the number of items.
func (s SliceSource[T]) Len() int { return len(s) }

// At returns the i-th item.
func (s SliceSource[T]) At(i int) T { return s[i] }

// QueueState is the lifecycle state shared by the producer and all consumers.
type QueueState int32

const (
	// QueueOpen: the producer may still enqueue.
	QueueOpen QueueState = iota
	// QueueDraining: the producer finished every pass; buffered items remain.
	QueueDraining
	// QueueClosed: nothing is buffered and nothing more will arrive.
	QueueClosed
)

func (s QueueState) String() string {
	switch s {
	case QueueOpen:
		return "open"
	case QueueDraining:
		return "draining"
	case QueueClosed:
		return "closed"
	default:
		return fmt.Sprintf("QueueState(%d)", int32(s))
	}
}

// RepeatPolicy governs how many full passes the producer makes over the source.
// The zero RepeatPolicy makes a single pass.
type RepeatPolicy struct {
	passes    int
	unbounded bool
}

// Repeat returns a policy of n full passes. n < 1 is treated as 1.
func Repeat(n int) RepeatPolicy {
	if n < 1 {
		n = 1
	}
	return RepeatPolicy{passes: n}
}

// Unbounded returns a policy that cycles over the source forever.
func Unbounded() RepeatPolicy {
	return RepeatPolicy{unbounded: true}
}

// IsUnbounded reports whether the producer never finishes on its own.
func (p RepeatPolicy) IsUnbounded() bool { return p.unbounded }

// Passes returns the finite pass count, or -1 when unbounded.
func (p RepeatPolicy) Passes() int {
	if p.unbounded {
		return -1
	}
	if p.passes < 1 {
		return 1
	}
	return p.passes
}

func (p RepeatPolicy) String() string {
	if p.unbounded {
		return "unbounded"
	}
	return fmt.Sprintf("repeat(%d)", p.Passes())
}

const (
	defaultFirstPullTimeout = 5 * time.Second
	defaultPullTimeout      = 500 * time.Millisecond
	defaultDrainRetries     = 500
	defaultDrainPause       = time.Second
)

// QueueConfig configures a WorkQueue. Zero durations and counts take defaults.
type QueueConfig struct {
	Name    string       // label used in logs and to derive the shuffle RNG
	Repeat  RepeatPolicy // number of passes over the source
	Shuffle bool         // permute the source independently on every pass
	Rand    *rand.Rand   // shuffle RNG; owned by the producer once activated

	MaxSize          int           // buffer bound; 0 means runtime.NumCPU()
	FirstPullTimeout time.Duration // wait slice for the first pull after activation
	PullTimeout      time.Duration // wait slice for later pulls
	DrainRetries     int           // CloseEarly drain attempts
	DrainPause       time.Duration // pause between drain attempts
}

// WorkQueue delivers each produced item to exactly one Pull while it has not
// been closed early. It is safe for concurrent use by any number of consumers.
type WorkQueue[T any] struct {
	source Source[T]
	cfg    QueueConfig
	log    *logrus.Entry

	items     chan T
	state     atomic.Int32
	activated atomic.Bool
	pulled    atomic.Bool // set once the first pull has started

	stop         chan struct{}
	stopOnce     sync.Once
	producerDone chan struct{}
}

// NewWorkQueue creates a queue over source. The producer does not start until Activate.
func NewWorkQueue[T any](source Source[T], cfg QueueConfig) *WorkQueue[T] {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	log := logrus.WithField("queue", cfg.Name)
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = runtime.NumCPU()
		log.Infof("Automatically set work queue max size to %d to avoid overwhelming consumers", cfg.MaxSize)
	}
	if cfg.FirstPullTimeout <= 0 {
		cfg.FirstPullTimeout = defaultFirstPullTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = defaultPullTimeout
	}
	if cfg.DrainRetries <= 0 {
		cfg.DrainRetries = defaultDrainRetries
	}
	if cfg.DrainPause <= 0 {
		cfg.DrainPause = defaultDrainPause
	}
	if cfg.Shuffle && cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(fnv1a64(SubsystemQueue(cfg.Name))))
	}
	return &WorkQueue[T]{
		source:       source,
		cfg:          cfg,
		log:          log,
		items:        make(chan T, cfg.MaxSize),
		stop:         make(chan struct{}),
		producerDone: make(chan struct{}),
	}
}

// Activate starts the background producer. It may be called only once.
func (q *WorkQueue[T]) Activate() error {
	if !q.activated.CompareAndSwap(false, true) {
		return ErrDoubleActivation
	}
	go q.produce()
	return nil
}

// Activated reports whether the producer has been started.
func (q *WorkQueue[T]) Activated() bool {
	return q.activated.Load()
}

// State returns the current queue state. A draining queue whose buffer is
// empty is promoted to closed.
func (q *WorkQueue[T]) State() QueueState {
	s := QueueState(q.state.Load())
	if s == QueueDraining && len(q.items) == 0 {
		q.state.CompareAndSwap(int32(QueueDraining), int32(QueueClosed))
		return QueueState(q.state.Load())
	}
	return s
}

// Len returns the number of buffered items.
func (q *WorkQueue[T]) Len() int {
	return len(q.items)
}

// Pull blocks until an item is available and returns it. It returns
// ErrExhausted once the queue is closed and empty, and ctx.Err() if ctx ends
// first. A queue that is already finished and empty answers at once;
// otherwise the wait is sliced by the pull timeout so exhaustion is noticed
// without blocking forever. The first pull uses a longer slice to absorb
// producer start-up.
func (q *WorkQueue[T]) Pull(ctx context.Context) (T, error) {
	var zero T
	if !q.activated.Load() {
		return zero, ErrNotActivated
	}
	timeout := q.cfg.PullTimeout
	if q.pulled.CompareAndSwap(false, true) {
		timeout = q.cfg.FirstPullTimeout
	}
	if item, ok, err := q.TryPull(); ok || err != nil {
		return item, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case item := <-q.items:
			return item, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}
		if item, ok, err := q.TryPull(); ok || err != nil {
			return item, err
		}
		timer.Reset(q.cfg.PullTimeout)
	}
}

// TryPull returns a buffered item without blocking. ok is false when nothing
// is buffered; err is ErrExhausted when nothing ever will be.
func (q *WorkQueue[T]) TryPull() (item T, ok bool, err error) {
	if !q.activated.Load() {
		return item, false, ErrNotActivated
	}
	// The state is read before the buffer: the producer enqueues its last
	// item before it leaves QueueOpen, so an empty buffer observed after a
	// finished state is final.
	finished := QueueState(q.state.Load()) != QueueOpen
	select {
	case item = <-q.items:
		return item, true, nil
	default:
	}
	if finished {
		q.state.CompareAndSwap(int32(QueueDraining), int32(QueueClosed))
		return item, false, ErrExhausted
	}
	return item, false, nil
}

// All returns an iterator yielding items until the queue is exhausted or
// ctx ends. Pull errors other than exhaustion end the iteration silently;
// use Pull directly to observe them.
func (q *WorkQueue[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, err := q.Pull(ctx)
			if err != nil {
				q.log.Debugf("Work queue consumer stopped: %v", err)
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// CloseEarly forces the queue closed, stops the producer and drains the
// buffer. It is idempotent. Items still in flight from the producer may
// reappear briefly; the drain retries up to the configured budget and warns
// on each retry instead of failing.
func (q *WorkQueue[T]) CloseEarly() {
	q.state.Store(int32(QueueClosed))
	q.stopOnce.Do(func() { close(q.stop) })

	for retry := 0; retry < q.cfg.DrainRetries; retry++ {
		if retry >= 1 {
			q.log.Warnf("After %d cleanup attempts, the work queue is still not empty", retry)
		}
		q.drain()
		time.Sleep(q.cfg.DrainPause)
		if len(q.items) == 0 {
			break
		}
	}
	q.log.Debugf("Remaining work queue items collected, empty: %v", len(q.items) == 0)
}

// Wait blocks until the producer goroutine has exited or ctx ends.
func (q *WorkQueue[T]) Wait(ctx context.Context) error {
	if !q.activated.Load() {
		return nil
	}
	select {
	case <-q.producerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *WorkQueue[T]) drain() {
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

func (q *WorkQueue[T]) closed() bool {
	return QueueState(q.state.Load()) == QueueClosed
}

func (q *WorkQueue[T]) produce() {
	defer close(q.producerDone)

	n := q.source.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for pass := 0; q.cfg.Repeat.IsUnbounded() || pass < q.cfg.Repeat.Passes(); pass++ {
		if n == 0 {
			// Nothing to cycle over; an unbounded repeat would spin.
			break
		}
		if q.cfg.Shuffle {
			q.cfg.Rand.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for _, idx := range order {
			if q.closed() {
				return
			}
			select {
			case q.items <- q.source.At(idx):
			case <-q.stop:
				return
			}
		}
		q.log.Debugf("Work queue pass %d done", pass)
	}
	q.state.CompareAndSwap(int32(QueueOpen), int32(QueueDraining))
}
