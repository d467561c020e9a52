package critique

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/imitatoes/types"
)

// ErrMalformedCritique is returned when no JSON object can be extracted
// from a reviewer reply.
var ErrMalformedCritique = errors.New("malformed critique")

// MalformedError carries the reply text that failed to parse.
type MalformedError struct {
	Reply string
	Err   error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v (reply: %s)", ErrMalformedCritique, e.Err, snippet(e.Reply))
	}
	return fmt.Sprintf("%v: no JSON object found (reply: %s)", ErrMalformedCritique, snippet(e.Reply))
}

// Unwrap returns the underlying decode error.
func (e *MalformedError) Unwrap() error { return e.Err }

// Is matches ErrMalformedCritique.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedCritique }

// Parse extracts the JSON object embedded in a reviewer reply.
//
// The span from the first '{' to the last '}' is tried first. When that span
// is not valid JSON, balanced objects are scanned left to right and the
// first one that decodes wins. A missing or non-object "changes" means no
// changes.
//
// A string "done" counts as true only when it reads true, yes or 1, so
// "false" or "no" does not end the run just because it is non-empty.
func Parse(reply string) (*types.CritiqueResult, error) {
	raw, err := extractObject(reply)
	if err != nil {
		return nil, &MalformedError{Reply: reply, Err: err}
	}

	var wire struct {
		Done    json.RawMessage `json:"done"`
		Changes json.RawMessage `json:"changes"`
		Reason  json.RawMessage `json:"reason"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MalformedError{Reply: reply, Err: err}
	}

	result := &types.CritiqueResult{
		Done:   truthy(wire.Done),
		Reason: reasonText(wire.Reason),
		Raw:    raw,
	}
	if isObject(wire.Changes) {
		if err := json.Unmarshal(wire.Changes, &result.Changes); err != nil {
			result.Changes = types.ChangeSet{}
		}
	}
	return result, nil
}

// MentionsToken reports whether reason contains the advisory done token.
func MentionsToken(result *types.CritiqueResult, doneToken string) bool {
	return doneToken != "" && strings.Contains(result.Reason, doneToken)
}

var errNoObject = errors.New("no JSON object found")

func extractObject(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end <= start {
		return nil, errNoObject
	}

	naive := text[start : end+1]
	firstErr := validObject(naive)
	if firstErr == nil {
		return json.RawMessage(naive), nil
	}

	for i := start; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		j := matchBrace(text, i)
		if j == -1 {
			continue
		}
		if validObject(text[i:j+1]) == nil {
			return json.RawMessage(text[i : j+1]), nil
		}
	}
	return nil, firstErr
}

// matchBrace returns the index of the '}' closing the '{' at open, skipping
// braces inside JSON strings, or -1.
func matchBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func validObject(s string) error {
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// truthy interprets "done". Booleans are taken as is, numbers are true when
// non-zero and strings when they read true, yes or 1.
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		f, err := strconv.ParseFloat(x.String(), 64)
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

func reasonText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func snippet(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return strconv.Quote(s[:limit] + "...")
	}
	return strconv.Quote(s)
}
