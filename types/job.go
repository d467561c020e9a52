//nolint:revive // types is a common Go package naming convention
package types

import (
	"path"
	"strings"
)

// ArtifactRef points at one output file of a completed generation job.
type ArtifactRef struct {
	Filename  string `json:"filename" msgpack:"filename"`
	Subfolder string `json:"subfolder" msgpack:"subfolder"`
	Type      string `json:"type" msgpack:"type"`
	// NodeID is the workflow node that produced the file, when known.
	NodeID string `json:"node_id,omitempty" msgpack:"node_id,omitempty"`
}

// Ext returns the lowercased image extension, defaulting to ".png".
func (r ArtifactRef) Ext() string {
	switch ext := strings.ToLower(path.Ext(r.Filename)); ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return ext
	default:
		return ".png"
	}
}

// MIMEType guesses the media type from the file extension.
func (r ArtifactRef) MIMEType() string {
	switch r.Ext() {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// Completion is a generation job's entry in the backend completion index.
type Completion struct {
	JobID string
	// Status is the backend's status string (e.g. "success", "error").
	Status string
	// Completed is the backend's completion flag.
	Completed bool
	// Artifacts lists output files in the order the backend reported them.
	Artifacts []ArtifactRef
}

// First returns the first referenced artifact.
func (c *Completion) First() (ArtifactRef, bool) {
	if c == nil || len(c.Artifacts) == 0 {
		return ArtifactRef{}, false
	}
	return c.Artifacts[0], true
}
