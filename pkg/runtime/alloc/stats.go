package alloc

// MemStats is the per-invocation memory accounting record. Field names on
// the wire match the harness contract. All counters are monotone except
// the live counters, which fall on free.
type MemStats struct {
	AllocCalls      uint64 `json:"alloc_calls" yaml:"alloc_calls"`
	ReallocCalls    uint64 `json:"realloc_calls" yaml:"realloc_calls"`
	FreeCalls       uint64 `json:"free_calls" yaml:"free_calls"`
	BytesAllocTotal uint64 `json:"bytes_alloc_total" yaml:"bytes_alloc_total"`
	BytesFreedTotal uint64 `json:"bytes_freed_total" yaml:"bytes_freed_total"`
	LiveBytes       uint64 `json:"live_bytes" yaml:"live_bytes"`
	PeakLiveBytes   uint64 `json:"peak_live_bytes" yaml:"peak_live_bytes"`
	LiveAllocs      uint64 `json:"live_allocs" yaml:"live_allocs"`
	PeakLiveAllocs  uint64 `json:"peak_live_allocs" yaml:"peak_live_allocs"`
	MemcpyBytes     uint64 `json:"memcpy_bytes" yaml:"memcpy_bytes"`
}

// LeakFree reports the hard leak gate: nothing live at sampling time.
func (s MemStats) LeakFree() bool {
	return s.LiveAllocs == 0 && s.LiveBytes == 0
}
