package comfy

import (
	"encoding/json"
	"testing"
)

func TestOrderedImages_DocumentOrder(t *testing.T) {
	outputs := json.RawMessage(`{
		"20": {"text": ["caption"]},
		"12": {"images": [{"filename": "b.png", "subfolder": "s", "type": "temp"}, {"filename": "c.png"}]},
		"3": {"images": [{"filename": "a.png"}]}
	}`)
	refs, err := orderedImages(outputs)
	if err != nil {
		t.Fatalf("orderedImages: %v", err)
	}
	want := []string{"b.png", "c.png", "a.png"}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d", len(refs), len(want))
	}
	for i, name := range want {
		if refs[i].Filename != name {
			t.Errorf("refs[%d] = %q, want %q", i, refs[i].Filename, name)
		}
	}
	if refs[0].NodeID != "12" || refs[0].Type != "temp" || refs[0].Subfolder != "s" {
		t.Errorf("refs[0] = %+v", refs[0])
	}
}

func TestOrderedImages_Empty(t *testing.T) {
	for _, raw := range []string{``, `null`, `{}`, `{"9": {"images": []}}`, `{"9": "weird"}`} {
		refs, err := orderedImages(json.RawMessage(raw))
		if err != nil {
			t.Errorf("orderedImages(%q) error = %v", raw, err)
		}
		if len(refs) != 0 {
			t.Errorf("orderedImages(%q) = %v, want none", raw, refs)
		}
	}
}

func TestOrderedImages_NotObject(t *testing.T) {
	if _, err := orderedImages(json.RawMessage(`[1]`)); err == nil {
		t.Error("expected error for array outputs")
	}
}

func TestParseHistoryEntry_Status(t *testing.T) {
	raw := json.RawMessage(`{"outputs": {}, "status": {"status_str": "error", "completed": false}}`)
	c, err := parseHistoryEntry("p1", raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.JobID != "p1" || c.Status != "error" || c.Completed {
		t.Errorf("completion = %+v", c)
	}
	if _, ok := c.First(); ok {
		t.Error("expected no artifact")
	}
}
