package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === RunKey ===

// RunKey is the seed every random stream of a rollout derives from: queue
// shuffles, synthetic orders and market data, fast-dev-run subsets and
// stochastic policies. Re-running with the same key replays the same orders
// in the same queue order.
type RunKey int64

// NewRunKey creates a RunKey from a seed value.
func NewRunKey(seed int64) RunKey {
	return RunKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemMarket is the RNG subsystem for synthetic market data.
	// Uses master seed directly so --seed alone fixes the data set.
	SubsystemMarket = "market"

	// SubsystemSubset is the RNG subsystem for fast-dev-run subsetting.
	SubsystemSubset = "subset"

	// SubsystemPolicy is the RNG subsystem for stochastic policies.
	SubsystemPolicy = "policy"
)

// SubsystemQueue returns the subsystem name for the shuffle order of a named queue.
func SubsystemQueue(name string) string {
	return fmt.Sprintf("queue_%s", name)
}

// === PartitionedRNG ===

// PartitionedRNG hands every consumer of randomness its own stream, so adding
// a shuffled queue or a random policy does not shift the market data.
//
// The market stream is seeded with the key itself; every other stream with
// key XOR fnv1a64(name).
//
// Thread-safety: NOT thread-safe. Use it from the orchestrating goroutine and
// keep each returned *rand.Rand with one goroutine; a queue's shuffle RNG is
// owned by its producer once activated.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	rng := rand.New(rand.NewSource(p.derive(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the RunKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

func (p *PartitionedRNG) derive(name string) int64 {
	if name == SubsystemMarket {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
