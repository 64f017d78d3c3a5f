package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// CSVWriter rewrites Path with every episode recorded so far each time a pass
// completes. Columns are pass, slot, episode, return, length and then one per
// metric key, sorted. Episodes missing a metric leave the cell empty.
type CSVWriter struct {
	*Recorder
	Path string

	mu  sync.Mutex
	err error
}

// NewCSVWriter creates a CSVWriter with its own Recorder.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{Recorder: NewRecorder(), Path: path}
}

func (w *CSVWriter) OnPassComplete() {
	w.Recorder.OnPassComplete()
	if err := w.Flush(); err != nil {
		logrus.Errorf("Writing episode CSV %s: %v", w.Path, err)
	}
}

// Flush writes the records now.
func (w *CSVWriter) Flush() error {
	err := writeCSV(w.Path, w.Records())
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	return err
}

// Err returns the error of the last write, if any.
func (w *CSVWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func writeCSV(path string, records []EpisodeRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	keys := MetricKeys(records)
	cw := csv.NewWriter(f)
	header := append([]string{"pass", "slot", "episode", "return", "length"}, keys...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Pass),
			strconv.Itoa(rec.Slot),
			strconv.Itoa(rec.Index),
			strconv.FormatFloat(rec.Return, 'g', -1, 64),
			strconv.Itoa(rec.Length),
		}
		for _, k := range keys {
			v, ok := rec.Metrics[k]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}
