// Package report renders invocation outcomes as stable machine-readable
// records. The same invocation always serializes to the same bytes: maps
// are avoided, field order is fixed by the struct, and no timestamps or
// addresses appear anywhere.
package report

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"cedarc/pkg/eval"
	"cedarc/pkg/runtime/alloc"
	"cedarc/pkg/runtime/borrowdbg"
)

// Report is the outcome record of one invocation.
type Report struct {
	OK       bool                  `json:"ok" yaml:"ok"`
	Trap     string                `json:"trap,omitempty" yaml:"trap,omitempty"`
	Output   string                `json:"output" yaml:"output"`
	LeakFree bool                  `json:"leak_free" yaml:"leak_free"`
	Mem      alloc.MemStats        `json:"mem" yaml:"mem"`
	Debug    *borrowdbg.DebugStats `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// New builds a report from an interpreter result. debugMode controls
// whether the debug counter block is included even when zero.
func New(res *eval.Result, debugMode bool) *Report {
	r := &Report{
		OK:       res.OK,
		Trap:     res.Trap,
		Output:   string(res.Output),
		LeakFree: res.OK && res.LeakFree(),
		Mem:      res.Mem,
	}
	if debugMode {
		dbg := res.Debug
		r.Debug = &dbg
	}
	return r
}

// JSON renders the report as indented JSON with a trailing newline.
func (r *Report) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// YAML renders the report as YAML.
func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
