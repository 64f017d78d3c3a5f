package trace

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/inference-sim/finite-rollout/sim"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ sim.LogWriter    = (*Recorder)(nil)
	_ sim.RetireWriter = (*Recorder)(nil)
	_ sim.LogWriter    = (*ConsoleWriter)(nil)
	_ sim.LogWriter    = (*CSVWriter)(nil)
)

// play feeds one episode of the given rewards to w on slot.
func play(w sim.LogWriter, slot int, rewards ...float64) {
	w.OnSlotReset(slot, sim.Float(0))
	for i, r := range rewards {
		done := i == len(rewards)-1
		var info sim.Info
		if done {
			info = sim.Info{"ffr": 1, "pa": r}
		}
		w.OnSlotStep(slot, sim.Float(0), r, done, info)
	}
}

func TestRecorder_RecordsFinishedEpisodes(t *testing.T) {
	// GIVEN a recorder
	rec := NewRecorder()

	// WHEN two slots finish interleaved episodes
	rec.OnSlotReset(0, sim.Float(0))
	rec.OnSlotReset(1, sim.Float(0))
	rec.OnSlotStep(0, sim.Float(0), 1, false, nil)
	rec.OnSlotStep(1, sim.Float(0), 5, true, sim.Info{"ffr": 0.5})
	rec.OnSlotStep(0, sim.Float(0), 2, true, sim.Info{"ffr": 1})

	// THEN both episodes are recorded in completion order
	got := rec.Records()
	require.Len(t, got, 2)
	assert.Equal(t, EpisodeRecord{Pass: 0, Slot: 1, Index: 0, Return: 5, Length: 1, Metrics: map[string]float64{"ffr": 0.5}}, got[0])
	assert.Equal(t, EpisodeRecord{Pass: 0, Slot: 0, Index: 1, Return: 3, Length: 2, Metrics: map[string]float64{"ffr": 1}}, got[1])
}

func TestRecorder_DropsCutEpisodes(t *testing.T) {
	rec := NewRecorder()

	// WHEN a slot retires mid-episode and another is cut by the pass end
	rec.OnSlotReset(0, sim.Float(0))
	rec.OnSlotStep(0, sim.Float(0), 1, false, nil)
	rec.OnSlotRetired(0)
	rec.OnSlotStep(0, sim.Float(0), 1, true, nil)

	rec.OnSlotReset(1, sim.Float(0))
	rec.OnPassComplete()
	rec.OnSlotStep(1, sim.Float(0), 1, true, nil)

	// THEN nothing is recorded and the pass counter advanced
	assert.Equal(t, 0, rec.Len())
	assert.Equal(t, 1, rec.Pass())
}

func TestRecorder_PassRecords(t *testing.T) {
	rec := NewRecorder()
	play(rec, 0, 1)
	rec.OnPassComplete()
	play(rec, 0, 2)
	play(rec, 1, 3)

	assert.Len(t, rec.PassRecords(0), 1)
	assert.Len(t, rec.PassRecords(1), 2)
	assert.Empty(t, rec.PassRecords(2))
}

func TestSummarize(t *testing.T) {
	records := []EpisodeRecord{
		{Return: 1, Length: 2, Metrics: map[string]float64{"ffr": 1, "pa": 2}},
		{Return: 3, Length: 4, Metrics: map[string]float64{"ffr": 0.5}},
	}

	s := Summarize(records)

	assert.Equal(t, 2, s.Episodes)
	assert.InDelta(t, 2, s.MeanReturn, 1e-12)
	assert.InDelta(t, 1.4142135623730951, s.StdReturn, 1e-12)
	assert.Equal(t, 1.0, s.MinReturn)
	assert.Equal(t, 3.0, s.MaxReturn)
	assert.InDelta(t, 3, s.MeanLength, 1e-12)
	assert.InDelta(t, 0.75, s.Metrics["ffr"], 1e-12)
	assert.InDelta(t, 2, s.Metrics["pa"], 1e-12, "mean over the episodes that report the key")
}

func TestSummarize_EmptyAndSingle(t *testing.T) {
	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Episodes)
	assert.NotNil(t, empty.Metrics)

	one := Summarize([]EpisodeRecord{{Return: 4, Length: 1}})
	assert.Equal(t, 0.0, one.StdReturn)
	assert.Equal(t, 4.0, one.MeanReturn)
}

func TestConsoleWriter_LogsProgressAndPassSummary(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	logrus.SetLevel(logrus.InfoLevel)

	// GIVEN a console writer reporting every 2 episodes
	w := NewConsoleWriter(2, 3)

	// WHEN three episodes finish and the pass ends
	play(w, 0, 1)
	play(w, 1, 2)
	play(w, 0, 3)
	w.OnPassComplete()

	// THEN one progress line and one pass summary are logged
	var infos []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			infos = append(infos, e)
		}
	}
	require.Len(t, infos, 2)
	assert.Equal(t, 2, infos[0].Data["episodes"])
	assert.Equal(t, 3, infos[1].Data["episodes"])
	assert.Equal(t, 1.0, infos[1].Data["ffr"])
	assert.Equal(t, 3, w.Len())
}

func TestCSVWriter_WritesOnPassComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.csv")
	w := NewCSVWriter(path)

	play(w, 0, 1, 2)
	w.OnSlotReset(1, sim.Float(0))
	w.OnSlotStep(1, sim.Float(0), 7, true, sim.Info{"ffr": 0.25})
	w.OnPassComplete()
	require.NoError(t, w.Err())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"pass", "slot", "episode", "return", "length", "ffr", "pa"}, rows[0])
	assert.Equal(t, []string{"0", "0", "0", "3", "2", "1", "2"}, rows[1])
	assert.Equal(t, []string{"0", "1", "1", "7", "1", "0.25", ""}, rows[2])
}

func TestCSVWriter_ReportsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	// a directory where the file should be
	path := filepath.Join(dir, "result.csv")
	require.NoError(t, os.Mkdir(path, 0o755))
	w := NewCSVWriter(path)

	w.OnPassComplete()

	assert.Error(t, w.Err())
}
