//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ChangeSet is the "changes" object of a critique: proposed mutations to
// the loop state. The zero value changes nothing.
type ChangeSet struct {
	PromptAppend string
	NegAppend    string
	CFG          Field[Value]
	Steps        Field[Value]
	Seed         Field[Value]
}

// UnmarshalJSON decodes the critique's changes object permissively.
// Wrongly typed appends are dropped; numeric fields keep their raw form
// and are coerced later. Only a non-object input is an error.
func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*c = ChangeSet{
		PromptAppend: stringField(fields["prompt_append"]),
		NegAppend:    stringField(fields["neg_append"]),
	}
	if raw, ok := fields["cfg"]; ok {
		c.CFG = decodeField(raw)
	}
	if raw, ok := fields["steps"]; ok {
		c.Steps = decodeField(raw)
	}
	if raw, ok := fields["seed"]; ok {
		c.Seed = decodeField(raw)
	}
	return nil
}

// IsEmpty reports whether applying the change set would be a no-op on
// every field.
func (c ChangeSet) IsEmpty() bool {
	return strings.TrimSpace(c.PromptAppend) == "" &&
		strings.TrimSpace(c.NegAppend) == "" &&
		!c.CFG.IsSet() && !c.Steps.IsSet() && !c.Seed.IsSet()
}

// CritiqueResult is the parsed reviewer verdict for one iteration.
type CritiqueResult struct {
	Done    bool
	Changes ChangeSet
	Reason  string
	// Raw is the extracted JSON object exactly as the reviewer sent it.
	Raw json.RawMessage
}

// Pretty returns Raw indented with two spaces, preserving key order.
func (r *CritiqueResult) Pretty() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
