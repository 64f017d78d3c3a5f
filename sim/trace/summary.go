package trace

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EpisodeSummary aggregates a set of EpisodeRecords.
type EpisodeSummary struct {
	Episodes   int
	MeanReturn float64
	StdReturn  float64
	MinReturn  float64
	MaxReturn  float64
	MeanLength float64
	Metrics    map[string]float64 // per-key mean over the episodes reporting it
}

// Summarize computes aggregate statistics from records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []EpisodeRecord) EpisodeSummary {
	summary := EpisodeSummary{Metrics: make(map[string]float64)}
	if len(records) == 0 {
		return summary
	}

	returns := make([]float64, len(records))
	lengths := make([]float64, len(records))
	byKey := make(map[string][]float64)
	for i, rec := range records {
		returns[i] = rec.Return
		lengths[i] = float64(rec.Length)
		for k, v := range rec.Metrics {
			byKey[k] = append(byKey[k], v)
		}
	}

	summary.Episodes = len(records)
	summary.MeanReturn = stat.Mean(returns, nil)
	if len(returns) > 1 {
		summary.StdReturn = stat.StdDev(returns, nil)
	}
	summary.MinReturn = floats.Min(returns)
	summary.MaxReturn = floats.Max(returns)
	summary.MeanLength = stat.Mean(lengths, nil)
	for k, vs := range byKey {
		summary.Metrics[k] = stat.Mean(vs, nil)
	}
	return summary
}

// MetricKeys returns the union of metric keys over records, sorted.
func MetricKeys(records []EpisodeRecord) []string {
	seen := make(map[string]bool)
	for _, rec := range records {
		for k := range rec.Metrics {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
