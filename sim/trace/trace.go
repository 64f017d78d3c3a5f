package trace

import (
	"sync"

	"github.com/inference-sim/finite-rollout/sim"
)

type episode struct {
	ret    float64
	length int
}

// Recorder accumulates EpisodeRecords from supervisor callbacks. A slot's
// episode starts at its reset and ends at its first done step. Episodes cut
// short by retirement or by the end of a pass are dropped.
type Recorder struct {
	mu       sync.Mutex
	pass     int
	inflight map[int]*episode
	records  []EpisodeRecord
}

// NewRecorder creates an empty recorder positioned at pass 0.
func NewRecorder() *Recorder {
	return &Recorder{inflight: make(map[int]*episode)}
}

func (r *Recorder) OnSlotReset(slot int, _ sim.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[slot] = &episode{}
}

func (r *Recorder) OnSlotStep(slot int, _ sim.Value, reward float64, done bool, info sim.Info) {
	r.record(slot, reward, done, info)
}

// record applies one step and reports whether it finished an episode.
func (r *Recorder) record(slot int, reward float64, done bool, info sim.Info) (EpisodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.inflight[slot]
	if !ok {
		return EpisodeRecord{}, false
	}
	ep.ret += reward
	ep.length++
	if !done {
		return EpisodeRecord{}, false
	}
	delete(r.inflight, slot)
	rec := EpisodeRecord{
		Pass:    r.pass,
		Slot:    slot,
		Index:   len(r.records),
		Return:  ep.ret,
		Length:  ep.length,
		Metrics: info.Clone(),
	}
	r.records = append(r.records, rec)
	return rec, true
}

func (r *Recorder) OnSlotRetired(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, slot)
}

func (r *Recorder) OnPassComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pass++
	clear(r.inflight)
}

// Pass returns the index of the pass currently being recorded.
func (r *Recorder) Pass() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pass
}

// Len returns the number of finished episodes across all passes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Records returns a copy of every finished episode.
func (r *Recorder) Records() []EpisodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EpisodeRecord(nil), r.records...)
}

// PassRecords returns a copy of the episodes finished during pass.
func (r *Recorder) PassRecords(pass int) []EpisodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EpisodeRecord
	for _, rec := range r.records {
		if rec.Pass == pass {
			out = append(out, rec)
		}
	}
	return out
}
