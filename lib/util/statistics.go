package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes standard deviation, minimum, maximum, and mean over the
// given values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean := sum / float64(len(values))

	var squared float64
	for _, v := range values {
		d := v - mean
		squared += d * d
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(squared / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats scores how evenly values are spread, for example
// record counts per index bucket. Quality combines the coefficient of
// variation with the min/max ratio; 1.0 is perfectly even.
func NewDistributionStats(values []float64) DistributionStats {
	stats := NewStats(values)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of record payload sizes in
// exponentially spaced buckets, so the store can report size estimates
// without scanning the log.
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int
	buckets    []int64
	count      int64
	sum        int64
}

// NewSizeHistogram returns a histogram covering payloads from a few bytes
// to the multi-gigabyte range.
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{
		16, 64, 256, 1024, 4096,
		16384, 65536, 262144, 1048576,
		4194304, 16777216, 67108864,
		268435456, 1073741824, 4294967296,
	}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample records one payload size.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := len(h.boundaries)
	for i, boundary := range h.boundaries {
		if size <= boundary {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the total number of samples.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the mean sampled size.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate returns a bucket-midpoint estimate for the given
// percentile (0 to 100).
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, count := range h.buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			return h.boundaries[len(h.boundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// MedianEstimate is PercentileEstimate at the 50th percentile.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}

// SizeDistribution returns the bucket boundaries and the percentage of
// samples that fell into each bucket.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) SizeDistribution() ([]int, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, percentages
	}
	for i, count := range h.buckets {
		percentages[i] = float64(count) * 100.0 / float64(h.count)
	}
	return h.boundaries, percentages
}

// Reset clears all samples.
//
// Thread-safety: This method is safe for concurrent use.
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
