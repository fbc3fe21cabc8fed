package util

import (
	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/rcrowley/go-metrics"
)

// ----------------------------------------------------------------------------
// Size Statistics
// ----------------------------------------------------------------------------

// SizeStats summarizes the value sizes of a database.
type SizeStats struct {
	Sampled int     `json:"sampled"`
	Min     int64   `json:"min"`
	Max     int64   `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	P99     float64 `json:"p99"`
}

// SampleSizes walks the view and records the size of up to maxSamples values
// in a uniform reservoir. It also returns the total number of entries and
// the estimated total size in bytes (keys plus values) extrapolated from the sample.
func SampleSizes(iterate db.IterateFunc, maxSamples int) (stats SizeStats, keys int, sizeBytes int, err error) {
	h := metrics.NewHistogram(metrics.NewUniformSample(maxSamples))
	var keyBytes int64
	err = iterate(func(k, v []byte) (bool, error) {
		keys++
		keyBytes += int64(len(k))
		h.Update(int64(len(v)))
		return true, nil
	})
	if err != nil || keys == 0 {
		return SizeStats{}, keys, 0, err
	}

	snap := h.Snapshot()
	stats = SizeStats{
		Sampled: snap.Sample().Size(),
		Min:     snap.Min(),
		Max:     snap.Max(),
		Mean:    snap.Mean(),
		Median:  snap.Percentile(0.5),
		P99:     snap.Percentile(0.99),
	}
	sizeBytes = int(keyBytes) + int(stats.Mean*float64(keys))
	return stats, keys, sizeBytes, nil
}
