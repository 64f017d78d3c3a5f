// Package trace turns supervisor log callbacks into per-episode records and
// summaries. Every writer here implements sim.LogWriter and sim.RetireWriter.
package trace

// EpisodeRecord captures one finished episode of one slot.
type EpisodeRecord struct {
	Pass    int // collection pass the episode finished in
	Slot    int
	Index   int // episode index across all passes, in completion order
	Return  float64
	Length  int
	Metrics map[string]float64 // info of the final transition
}
