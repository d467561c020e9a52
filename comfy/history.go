package comfy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/imitatoes/types"
)

type historyEntry struct {
	Outputs json.RawMessage `json:"outputs"`
	Status  struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

type nodeOutput struct {
	Images []types.ArtifactRef `json:"images"`
}

func parseHistoryEntry(jobID string, raw json.RawMessage) (*types.Completion, error) {
	var entry historyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("comfy history: decode entry %s: %w", jobID, err)
	}
	artifacts, err := orderedImages(entry.Outputs)
	if err != nil {
		return nil, fmt.Errorf("comfy history: outputs of %s: %w", jobID, err)
	}
	return &types.Completion{
		JobID:     jobID,
		Status:    entry.Status.StatusStr,
		Completed: entry.Status.Completed,
		Artifacts: artifacts,
	}, nil
}

// orderedImages walks the outputs object in document order, so "first
// image" means the first node the server listed, not the smallest key.
// Nodes that are not objects or carry no images are skipped.
func orderedImages(outputs json.RawMessage) ([]types.ArtifactRef, error) {
	trimmed := bytes.TrimSpace(outputs)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var refs []types.ArtifactRef
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		nodeID, _ := keyTok.(string)

		var node json.RawMessage
		if err := dec.Decode(&node); err != nil {
			return nil, err
		}
		var out nodeOutput
		if err := json.Unmarshal(node, &out); err != nil {
			continue
		}
		for _, img := range out.Images {
			if img.Filename == "" {
				continue
			}
			img.NodeID = nodeID
			refs = append(refs, img)
		}
	}
	return refs, nil
}
