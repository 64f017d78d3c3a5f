package trace

import (
	"maps"
	"slices"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/sirupsen/logrus"
)

// ConsoleWriter logs progress every Every finished episodes and a summary at
// the end of each pass. Total, when positive, is the expected episode count
// per pass and is shown alongside progress.
type ConsoleWriter struct {
	*Recorder
	Every int
	Total int
}

// NewConsoleWriter creates a ConsoleWriter with its own Recorder.
func NewConsoleWriter(every, total int) *ConsoleWriter {
	return &ConsoleWriter{Recorder: NewRecorder(), Every: every, Total: total}
}

func (c *ConsoleWriter) OnSlotStep(slot int, _ sim.Value, reward float64, done bool, info sim.Info) {
	if _, finished := c.record(slot, reward, done, info); !finished || c.Every <= 0 {
		return
	}
	pass := c.Pass()
	recent := c.PassRecords(pass)
	if len(recent)%c.Every != 0 {
		return
	}
	s := Summarize(recent[len(recent)-c.Every:])
	fields := logrus.Fields{"pass": pass, "episodes": len(recent)}
	if c.Total > 0 {
		fields["total"] = c.Total
	}
	logrus.WithFields(fields).Infof("Recent %d episodes: return %.4f ± %.4f, length %.1f",
		c.Every, s.MeanReturn, s.StdReturn, s.MeanLength)
}

func (c *ConsoleWriter) OnPassComplete() {
	pass := c.Pass()
	c.Recorder.OnPassComplete()
	s := Summarize(c.PassRecords(pass))
	entry := logrus.WithFields(logrus.Fields{"pass": pass, "episodes": s.Episodes})
	for _, k := range sortedKeys(s.Metrics) {
		entry = entry.WithField(k, s.Metrics[k])
	}
	entry.Infof("Pass complete: return %.4f ± %.4f [%.4f, %.4f]",
		s.MeanReturn, s.StdReturn, s.MinReturn, s.MaxReturn)
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}
