package sim

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// itemSchema is one real observation of queueWorker.
var itemSchema = Map(map[string]Value{
	"item": IntIn(DomainInt32, 0),
	"step": IntIn(DomainInt16, 0),
	"left": Float(0),
})

func itemObs(item, step int, left float64) Value {
	return Map(map[string]Value{
		"item": IntIn(DomainInt32, int64(item)),
		"step": IntIn(DomainInt16, int64(step)),
		"left": Float(left),
	})
}

func obsItem(t *testing.T, v Value) int {
	t.Helper()
	f, ok := v.Field("item")
	require.True(t, ok, "observation has no item field: %v", v)
	return int(f.Int())
}

// queueWorker pulls one item per reset from a shared queue and finishes an
// episode after episodeLen steps. Reward is the item value.
type queueWorker struct {
	queue      *WorkQueue[int]
	episodeLen int
	sentinel   Value

	mu       sync.Mutex
	item     int
	step     int
	consumed []int
	stepErr  error
}

func newQueueWorker(t *testing.T, q *WorkQueue[int], episodeLen int) *queueWorker {
	t.Helper()
	sentinel, err := MakeSentinel(itemSchema)
	require.NoError(t, err)
	return &queueWorker{queue: q, episodeLen: episodeLen, sentinel: sentinel}
}

func (w *queueWorker) Reset(ctx context.Context) (Value, error) {
	item, err := w.queue.Pull(ctx)
	if errors.Is(err, ErrExhausted) {
		return w.sentinel, nil
	}
	if err != nil {
		return Value{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.item, w.step = item, 0
	w.consumed = append(w.consumed, item)
	return itemObs(item, 0, float64(w.episodeLen)), nil
}

func (w *queueWorker) Step(_ context.Context, action int) (Transition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stepErr != nil {
		return Transition{}, w.stepErr
	}
	w.step++
	left := w.episodeLen - w.step
	return Transition{
		Obs:    itemObs(w.item, w.step, float64(left)),
		Reward: float64(w.item + action),
		Done:   left <= 0,
		Info:   Info{"step": float64(w.step)},
	}, nil
}

func (w *queueWorker) Consumed() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.consumed...)
}

// recordingWriter captures every log callback.
type recordingWriter struct {
	resets    []int
	steps     []int
	retired   []int
	completes int
}

func (r *recordingWriter) OnSlotReset(slot int, _ Value) { r.resets = append(r.resets, slot) }
func (r *recordingWriter) OnSlotStep(slot int, _ Value, _ float64, _ bool, _ Info) {
	r.steps = append(r.steps, slot)
}
func (r *recordingWriter) OnPassComplete()        { r.completes++ }
func (r *recordingWriter) OnSlotRetired(slot int) { r.retired = append(r.retired, slot) }

// newQueueSupervisor wires n queueWorkers over a fresh single-pass queue of m items.
func newQueueSupervisor(t *testing.T, strategy string, n, m, episodeLen int, writers ...LogWriter) (*WorkerSupervisor[int], []*queueWorker) {
	t.Helper()
	q := NewWorkQueue[int](intSource(m), fastQueueConfig(Repeat(1)))
	require.NoError(t, q.Activate())
	workers := make([]*queueWorker, n)
	asWorkers := make([]Worker[int], n)
	for i := range workers {
		workers[i] = newQueueWorker(t, q, episodeLen)
		asWorkers[i] = workers[i]
	}
	strat, err := NewStrategy[int](strategy, itemSchema)
	require.NoError(t, err)
	return NewWorkerSupervisor(asWorkers, strat, writers...), workers
}
