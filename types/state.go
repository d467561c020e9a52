//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strconv"
)

// LoopState is the mutable generation state owned by the loop driver for
// the lifetime of one run.
//
// Prompt and NegativePrompt only ever grow. A nil numeric means "use the
// backend default"; once set it is only replaced by another explicit value.
type LoopState struct {
	Prompt         string   `json:"prompt" msgpack:"prompt" yaml:"prompt"`
	NegativePrompt string   `json:"negative_prompt" msgpack:"negative_prompt" yaml:"negative_prompt"`
	CFG            *float64 `json:"cfg" msgpack:"cfg" yaml:"cfg"`
	Steps          *int     `json:"steps" msgpack:"steps" yaml:"steps"`
	Seed           *int64   `json:"seed" msgpack:"seed" yaml:"seed"`
}

// Clone returns a deep copy so callers can hold a snapshot while the
// driver keeps mutating its own state.
func (s LoopState) Clone() LoopState {
	out := s
	if s.CFG != nil {
		v := *s.CFG
		out.CFG = &v
	}
	if s.Steps != nil {
		v := *s.Steps
		out.Steps = &v
	}
	if s.Seed != nil {
		v := *s.Seed
		out.Seed = &v
	}
	return out
}

// CFGString renders cfg for template substitution; empty when unset.
func (s LoopState) CFGString() string {
	if s.CFG == nil {
		return ""
	}
	return strconv.FormatFloat(*s.CFG, 'f', -1, 64)
}

// StepsString renders steps for template substitution; empty when unset.
func (s LoopState) StepsString() string {
	if s.Steps == nil {
		return ""
	}
	return strconv.Itoa(*s.Steps)
}

// SeedString renders seed for template substitution; empty when unset.
func (s LoopState) SeedString() string {
	if s.Seed == nil {
		return ""
	}
	return strconv.FormatInt(*s.Seed, 10)
}

// String is a compact one-line summary used in failure messages.
func (s LoopState) String() string {
	return fmt.Sprintf("cfg=%q steps=%q seed=%q prompt_len=%d negative_len=%d",
		s.CFGString(), s.StepsString(), s.SeedString(), len(s.Prompt), len(s.NegativePrompt))
}

// Counters locate one iteration inside the run. Both indices are 1-based.
type Counters struct {
	Loop      int `json:"loop" msgpack:"loop"`
	Iteration int `json:"iteration" msgpack:"iteration"`
}

// Key is the zero-padded artifact stem for this iteration,
// e.g. "loop_01_iter_02".
func (c Counters) Key() string {
	return fmt.Sprintf("loop_%02d_iter_%02d", c.Loop, c.Iteration)
}
