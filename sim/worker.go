package sim

import "context"

// Info carries per-step diagnostics from a worker. Values are plain floats so
// cached defaults can be copied without aliasing.
type Info map[string]float64

// Clone returns a copy of info. A nil Info clones to nil.
func (info Info) Clone() Info {
	if info == nil {
		return nil
	}
	cp := make(Info, len(info))
	for k, v := range info {
		cp[k] = v
	}
	return cp
}

// Transition is the result of advancing one worker by one action.
type Transition struct {
	Obs    Value
	Reward float64
	Done   bool
	Info   Info
}

// Worker is one simulator pipeline behind a supervisor slot.
//
// Reset pulls the worker's next unit of work and returns its first
// observation, or the sentinel when no work remains. Step advances the
// current episode by one action. Each method is called for one slot at a
// time; different slots may be called concurrently.
type Worker[A any] interface {
	Reset(ctx context.Context) (Value, error)
	Step(ctx context.Context, action A) (Transition, error)
}

// LogWriter observes a supervisor's slots. Callbacks run on the orchestrating
// goroutine and must not block for long.
type LogWriter interface {
	OnSlotReset(slot int, obs Value)
	OnSlotStep(slot int, obs Value, reward float64, done bool, info Info)
	OnPassComplete()
}

// RetireWriter is implemented by log writers that want to hear when a slot
// runs out of work.
type RetireWriter interface {
	OnSlotRetired(slot int)
}
