package sim

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Strategy is how a supervisor invokes the single-worker calls of one batch.
// Implementations return results aligned with ids.
type Strategy[A any] interface {
	Name() string
	Reset(ctx context.Context, workers []Worker[A], ids []int) ([]Value, error)
	Step(ctx context.Context, workers []Worker[A], actions []A, ids []int) ([]Transition, error)
}

const (
	// StrategySerial calls workers one after another on the calling goroutine.
	StrategySerial = "serial"
	// StrategyParallel calls every worker of a batch on its own goroutine.
	StrategyParallel = "parallel"
	// StrategySharedBuffer runs workers in parallel and ships observations
	// back through one fixed-width shared buffer.
	StrategySharedBuffer = "shmem"
)

// ValidStrategies is the set of recognized strategy names.
var ValidStrategies = map[string]bool{StrategySerial: true, StrategyParallel: true, StrategySharedBuffer: true}

// StrategyNames returns the recognized strategy names in sorted order.
func StrategyNames() []string {
	names := make([]string, 0, len(ValidStrategies))
	for name := range ValidStrategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStrategy returns the named strategy. schema is one real observation
// sample and is required only by StrategySharedBuffer.
func NewStrategy[A any](name string, schema Value) (Strategy[A], error) {
	switch name {
	case StrategySerial:
		return SerialStrategy[A]{}, nil
	case StrategyParallel:
		return ParallelStrategy[A]{}, nil
	case StrategySharedBuffer:
		return NewSharedBufferStrategy[A](schema)
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
}

// SerialStrategy runs each worker call in turn. Suited to cheap simulators.
type SerialStrategy[A any] struct{}

func (SerialStrategy[A]) Name() string { return StrategySerial }

func (SerialStrategy[A]) Reset(ctx context.Context, workers []Worker[A], ids []int) ([]Value, error) {
	out := make([]Value, len(ids))
	for k, id := range ids {
		obs, err := workers[id].Reset(ctx)
		if err != nil {
			return nil, fmt.Errorf("reset slot %d: %w", id, err)
		}
		out[k] = obs
	}
	return out, nil
}

func (SerialStrategy[A]) Step(ctx context.Context, workers []Worker[A], actions []A, ids []int) ([]Transition, error) {
	out := make([]Transition, len(ids))
	for k, id := range ids {
		tr, err := workers[id].Step(ctx, actions[k])
		if err != nil {
			return nil, fmt.Errorf("step slot %d: %w", id, err)
		}
		out[k] = tr
	}
	return out, nil
}

// ParallelStrategy fans each batch out to one goroutine per slot and waits
// for all of them. The first worker error cancels the batch context.
type ParallelStrategy[A any] struct{}

func (ParallelStrategy[A]) Name() string { return StrategyParallel }

func (ParallelStrategy[A]) Reset(ctx context.Context, workers []Worker[A], ids []int) ([]Value, error) {
	out := make([]Value, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for k, id := range ids {
		g.Go(func() error {
			obs, err := workers[id].Reset(gctx)
			if err != nil {
				return fmt.Errorf("reset slot %d: %w", id, err)
			}
			out[k] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ParallelStrategy[A]) Step(ctx context.Context, workers []Worker[A], actions []A, ids []int) ([]Transition, error) {
	out := make([]Transition, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for k, id := range ids {
		g.Go(func() error {
			tr, err := workers[id].Step(gctx, actions[k])
			if err != nil {
				return fmt.Errorf("step slot %d: %w", id, err)
			}
			out[k] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SharedBufferStrategy runs workers in parallel like ParallelStrategy, but
// each worker writes its observation into its own fixed-width region of one
// shared word buffer instead of returning it. The supervisor side rebuilds
// observations from the buffer, which is why a retired worker must still
// write a schema-shaped sentinel.
type SharedBufferStrategy[A any] struct {
	layout Layout
	buf    []uint64
}

// NewSharedBufferStrategy sizes regions from one real observation sample.
func NewSharedBufferStrategy[A any](schema Value) (*SharedBufferStrategy[A], error) {
	layout, err := NewLayout(schema)
	if err != nil {
		return nil, fmt.Errorf("shared buffer layout: %w", err)
	}
	return &SharedBufferStrategy[A]{layout: layout}, nil
}

func (s *SharedBufferStrategy[A]) Name() string { return StrategySharedBuffer }

func (s *SharedBufferStrategy[A]) region(n, id int) []uint64 {
	w := s.layout.Width()
	if len(s.buf) != n*w {
		s.buf = make([]uint64, n*w)
	}
	return s.buf[id*w : (id+1)*w]
}

func (s *SharedBufferStrategy[A]) Reset(ctx context.Context, workers []Worker[A], ids []int) ([]Value, error) {
	regions := make([][]uint64, len(ids))
	for k, id := range ids {
		regions[k] = s.region(len(workers), id)
	}
	g, gctx := errgroup.WithContext(ctx)
	for k, id := range ids {
		g.Go(func() error {
			obs, err := workers[id].Reset(gctx)
			if err != nil {
				return fmt.Errorf("reset slot %d: %w", id, err)
			}
			if err := s.layout.Encode(obs, regions[k]); err != nil {
				return fmt.Errorf("reset slot %d: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.decode(regions, ids)
}

func (s *SharedBufferStrategy[A]) Step(ctx context.Context, workers []Worker[A], actions []A, ids []int) ([]Transition, error) {
	regions := make([][]uint64, len(ids))
	for k, id := range ids {
		regions[k] = s.region(len(workers), id)
	}
	out := make([]Transition, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for k, id := range ids {
		g.Go(func() error {
			tr, err := workers[id].Step(gctx, actions[k])
			if err != nil {
				return fmt.Errorf("step slot %d: %w", id, err)
			}
			if err := s.layout.Encode(tr.Obs, regions[k]); err != nil {
				return fmt.Errorf("step slot %d: %w", id, err)
			}
			tr.Obs = Value{}
			out[k] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	obs, err := s.decode(regions, ids)
	if err != nil {
		return nil, err
	}
	for k := range out {
		out[k].Obs = obs[k]
	}
	return out, nil
}

func (s *SharedBufferStrategy[A]) decode(regions [][]uint64, ids []int) ([]Value, error) {
	out := make([]Value, len(ids))
	for k := range ids {
		obs, err := s.layout.Decode(regions[k])
		if err != nil {
			return nil, fmt.Errorf("decode slot %d: %w", ids[k], err)
		}
		out[k] = obs
	}
	return out, nil
}
