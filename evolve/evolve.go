// Package evolve folds a parsed critique into the running loop state.
//
// Apply is pure: it never fails, never touches the network and returns a
// fresh LoopState. Malformed sub-fields degrade to no-ops.
package evolve

import (
	"math"
	"strconv"
	"strings"

	"github.com/pithecene-io/imitatoes/types"
)

// Apply returns state with changes folded in.
//
// Appends are added on a new line and the result is trimmed. cfg and steps
// accept numbers or numeric strings. seed accepts integer numbers or strings
// made only of ASCII digits; anything else keeps the prior seed.
func Apply(state types.LoopState, changes types.ChangeSet) types.LoopState {
	next := state.Clone()

	next.Prompt = appendLine(next.Prompt, changes.PromptAppend)
	next.NegativePrompt = appendLine(next.NegativePrompt, changes.NegAppend)

	if changes.CFG.IsSet() {
		if v, ok := coerceFloat(changes.CFG.Value); ok {
			next.CFG = &v
		}
	}
	if changes.Steps.IsSet() {
		if v, ok := coerceInt(changes.Steps.Value); ok {
			next.Steps = &v
		}
	}
	if changes.Seed.IsSet() {
		if v, ok := coerceSeed(changes.Seed.Value); ok {
			next.Seed = &v
		}
	}
	return next
}

func appendLine(field, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return field
	}
	return strings.TrimSpace(field + "\n" + addition)
}

func coerceFloat(v types.Value) (float64, bool) {
	var literal string
	switch v.Kind {
	case types.ValueNumber:
		literal = v.Num.String()
	case types.ValueString:
		literal = strings.TrimSpace(v.Str)
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coerceInt truncates fractional numbers toward zero. Strings must hold a
// plain base-10 integer.
func coerceInt(v types.Value) (int, bool) {
	switch v.Kind {
	case types.ValueNumber:
		if n, err := strconv.ParseInt(v.Num.String(), 10, 0); err == nil {
			return int(n), true
		}
		f, err := strconv.ParseFloat(v.Num.String(), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f >= math.MaxInt || f < math.MinInt {
			return 0, false
		}
		return int(f), true
	case types.ValueString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 0)
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func coerceSeed(v types.Value) (int64, bool) {
	switch v.Kind {
	case types.ValueNumber:
		n, err := strconv.ParseInt(v.Num.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case types.ValueString:
		if !isDigits(v.Str) {
			return 0, false
		}
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
