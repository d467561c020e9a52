package comfy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pithecene-io/imitatoes/types"
)

// Placeholder tokens recognized in workflow string values.
const (
	TokenPrompt   = "__PROMPT__"
	TokenNegative = "__NEG__"
	TokenCFG      = "__CFG__"
	TokenSteps    = "__STEPS__"
	TokenSeed     = "__SEED__"
)

// Template is a parsed ComfyUI API-format workflow with placeholder tokens.
type Template struct {
	root any
}

// LoadWorkflow reads and parses a workflow file.
func LoadWorkflow(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	t, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return t, nil
}

// ParseWorkflow parses workflow JSON. The top level must be an object.
// Numbers keep their literal form.
func ParseWorkflow(data []byte) (*Template, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if _, ok := root.(map[string]any); !ok {
		return nil, errors.New("workflow must be a JSON object")
	}
	return &Template{root: root}, nil
}

// TokenSet names the placeholder used for each loop state field.
type TokenSet struct {
	Prompt   string
	Negative string
	CFG      string
	Steps    string
	Seed     string
}

// DefaultTokens returns the built-in placeholder names.
func DefaultTokens() TokenSet {
	return TokenSet{
		Prompt:   TokenPrompt,
		Negative: TokenNegative,
		CFG:      TokenCFG,
		Steps:    TokenSteps,
		Seed:     TokenSeed,
	}
}

// WithDefaults fills every empty name from DefaultTokens.
func (ts TokenSet) WithDefaults() TokenSet {
	def := DefaultTokens()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&ts.Prompt, def.Prompt)
	fill(&ts.Negative, def.Negative)
	fill(&ts.CFG, def.CFG)
	fill(&ts.Steps, def.Steps)
	fill(&ts.Seed, def.Seed)
	return ts
}

// Validate rejects empty or repeated names.
func (ts TokenSet) Validate() error {
	seen := make(map[string]string, 5)
	for _, f := range []struct{ field, tok string }{
		{"prompt", ts.Prompt},
		{"negative", ts.Negative},
		{"cfg", ts.CFG},
		{"steps", ts.Steps},
		{"seed", ts.Seed},
	} {
		if f.tok == "" {
			return fmt.Errorf("%s token must be non-empty", f.field)
		}
		if other, dup := seen[f.tok]; dup {
			return fmt.Errorf("%s and %s tokens are both %q", other, f.field, f.tok)
		}
		seen[f.tok] = f.field
	}
	return nil
}

// Values returns the token values for a loop state. Unset numerics render
// as empty strings.
func (ts TokenSet) Values(state types.LoopState) map[string]string {
	return map[string]string{
		ts.Prompt:   state.Prompt,
		ts.Negative: state.NegativePrompt,
		ts.CFG:      state.CFGString(),
		ts.Steps:    state.StepsString(),
		ts.Seed:     state.SeedString(),
	}
}

// Values returns the default token values for a loop state.
func Values(state types.LoopState) map[string]string {
	return DefaultTokens().Values(state)
}

// Render substitutes tokens in every string value, recursively. Object
// keys are left alone. Each string is scanned once, so substituted text is
// never rescanned and token order does not matter.
func (t *Template) Render(values map[string]string) (json.RawMessage, error) {
	r := newReplacer(values)
	out, err := json.Marshal(substitute(t.root, r))
	if err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}
	return out, nil
}

// Tokens reports which of the given tokens occur in any string value.
func (t *Template) Tokens(candidates ...string) []string {
	seen := make(map[string]bool, len(candidates))
	walkStrings(t.root, func(s string) {
		for _, tok := range candidates {
			if strings.Contains(s, tok) {
				seen[tok] = true
			}
		}
	})
	var found []string
	for _, tok := range candidates {
		if seen[tok] {
			found = append(found, tok)
		}
	}
	return found
}

// newReplacer orders tokens longest first so a token that prefixes another
// never shadows it.
func newReplacer(values map[string]string) *strings.Replacer {
	tokens := make([]string, 0, len(values))
	for tok := range values {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	pairs := make([]string, 0, 2*len(tokens))
	for _, tok := range tokens {
		pairs = append(pairs, tok, values[tok])
	}
	return strings.NewReplacer(pairs...)
}

func substitute(node any, r *strings.Replacer) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = substitute(child, r)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = substitute(child, r)
		}
		return out
	case string:
		return r.Replace(v)
	default:
		return v
	}
}

func walkStrings(node any, fn func(string)) {
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			walkStrings(child, fn)
		}
	case []any:
		for _, child := range v {
			walkStrings(child, fn)
		}
	case string:
		fn(v)
	}
}
