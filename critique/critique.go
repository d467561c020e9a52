// Package critique defines the vision-review boundary: the request sent to a
// reviewing model, the Critic interface that providers implement, and the
// parser that turns free-text replies into a CritiqueResult.
package critique

import (
	"context"
	"fmt"
)

// DefaultDoneToken is the advisory token the reviewer is asked to put in
// its reason when satisfied.
const DefaultDoneToken = "[DONE]"

// DefaultMIMEType is assumed for generated artifacts unless a backend says
// otherwise.
const DefaultMIMEType = "image/png"

// Request is one review call: instructions, the user turn and the image.
type Request struct {
	// SystemPrompt carries the reply schema.
	SystemPrompt string
	// UserMessage restates the current prompt and negative prompt.
	UserMessage string
	// Image is the raw artifact bytes. Providers encode as their API needs.
	Image []byte
	// MIMEType of Image (default image/png).
	MIMEType string
}

// Critic asks a vision-capable model to review one image and returns its
// free-text reply. Implementations perform no parsing.
type Critic interface {
	// Critique sends the request and returns the model's reply text.
	// Must respect context cancellation and deadlines.
	Critique(ctx context.Context, req Request) (string, error)

	// Name identifies the provider and model for logs and reports.
	Name() string
}

// SystemPrompt returns the reviewer instructions, including the reply
// schema and the advisory done token.
func SystemPrompt(doneToken string) string {
	return "You are a vision critic. Return ONLY valid JSON matching this schema:\n" +
		"{\n" +
		"  \"done\": true|false,\n" +
		"  \"changes\": {\n" +
		"    \"prompt_append\": string,\n" +
		"    \"neg_append\": string,\n" +
		"    \"cfg\": number|null,\n" +
		"    \"steps\": number|null,\n" +
		"    \"seed\": number|string|null\n" +
		"  },\n" +
		"  \"reason\": \"short\"\n" +
		"}\n" +
		fmt.Sprintf("Use %q in the reason if the goal is satisfied.", doneToken)
}

// UserMessage renders the user turn for the given prompt pair.
func UserMessage(prompt, negative string) string {
	return fmt.Sprintf("Prompt:\n%s\n\nNegative:\n%s\n\nReview the image.", prompt, negative)
}

// NewRequest assembles a Request for the current state and image.
func NewRequest(doneToken, prompt, negative string, image []byte, mimeType string) Request {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return Request{
		SystemPrompt: SystemPrompt(doneToken),
		UserMessage:  UserMessage(prompt, negative),
		Image:        image,
		MIMEType:     mimeType,
	}
}
