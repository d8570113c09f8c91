package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cedarc/pkg/eval"
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
)

func sample() *eval.Result {
	return &eval.Result{
		OK:     true,
		Output: []byte("hi"),
		Mem: alloc.MemStats{
			AllocCalls:      3,
			FreeCalls:       3,
			BytesAllocTotal: 24,
			BytesFreedTotal: 24,
			PeakLiveBytes:   16,
			PeakLiveAllocs:  2,
			MemcpyBytes:     10,
		},
	}
}

func TestReportLeakGate(t *testing.T) {
	r := New(sample(), false)
	assert.True(t, r.LeakFree)
	assert.Nil(t, r.Debug, "release reports carry no debug block")

	leaky := sample()
	leaky.Mem.LiveAllocs = 1
	leaky.Mem.LiveBytes = 8
	assert.False(t, New(leaky, false).LeakFree)

	trapped := sample()
	trapped.OK = false
	trapped.Trap = "double free"
	assert.False(t, New(trapped, false).LeakFree, "a trapped run never passes the gate")
}

func TestReportJSONShape(t *testing.T) {
	res := sample()
	res.Debug = borrowdbg.DebugStats{BorrowViolations: 0}
	out, err := New(res, true).JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "hi", decoded["output"])
	assert.NotContains(t, decoded, "trap", "empty trap is omitted")

	mem := decoded["mem"].(map[string]interface{})
	for _, key := range []string{
		"alloc_calls", "realloc_calls", "free_calls",
		"bytes_alloc_total", "bytes_freed_total",
		"live_bytes", "peak_live_bytes",
		"live_allocs", "peak_live_allocs", "memcpy_bytes",
	} {
		assert.Contains(t, mem, key)
	}
	dbg := decoded["debug"].(map[string]interface{})
	assert.Contains(t, dbg, "borrow_violations")
}

func TestReportDeterministicBytes(t *testing.T) {
	a, err := New(sample(), false).JSON()
	require.NoError(t, err)
	b, err := New(sample(), false).JSON()
	require.NoError(t, err)
	assert.Equal(t, a, b, "same result, same serialized bytes")
}

func TestReportYAML(t *testing.T) {
	out, err := New(sample(), false).YAML()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, true, decoded["leak_free"])
}
