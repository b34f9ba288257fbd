package kv

// --------------------------------------------------------------------------
// Store statistics
// --------------------------------------------------------------------------

// Stats is a point-in-time snapshot of the store's shape. Values are read
// without coordination and may be mutually inconsistent under load.
type Stats struct {
	IndexBuckets int64 `json:"index_buckets"`
	IndexEntries int64 `json:"index_entries"`
	Growing      bool  `json:"growing"`

	TailAddress     uint64 `json:"tail_address"`
	HeadAddress     uint64 `json:"head_address"`
	ReadOnlyAddress uint64 `json:"read_only_address"`

	UsedBytes   int64 `json:"used_bytes"`
	BudgetBytes int64 `json:"budget_bytes"`

	ActiveSessions int `json:"active_sessions"`

	// Payload size estimates from the allocation histogram.
	AvgValueSize    int `json:"avg_value_size"`
	MedianValueSize int `json:"median_value_size"`
	P99ValueSize    int `json:"p99_value_size"`
}

// Stats collects a snapshot.
//
// Thread-safety: This method is thread-safe; IndexEntries walks the active
// table and is proportional to its size.
func (s *Store[K]) Stats() Stats {
	return Stats{
		IndexBuckets:    int64(s.index.Size()),
		IndexEntries:    int64(s.index.EntryCount()),
		Growing:         s.index.Growing(),
		TailAddress:     uint64(s.log.TailAddress()),
		HeadAddress:     uint64(s.log.HeadAddress()),
		ReadOnlyAddress: uint64(s.log.ReadOnlyAddress()),
		UsedBytes:       s.log.UsedBytes(),
		BudgetBytes:     s.log.BudgetBytes(),
		ActiveSessions:  s.sessions.Size(),
		AvgValueSize:    s.sizes.AverageSize(),
		MedianValueSize: s.sizes.MedianEstimate(),
		P99ValueSize:    s.sizes.PercentileEstimate(99),
	}
}
