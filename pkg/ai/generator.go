package ai

import "context"

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request carries everything the upstream generation side needs: the prompt,
// prior turns, and an opaque scope identifier naming which document corpus to
// answer from. The scope is passed through verbatim, never interpreted here.
type Request struct {
	Scope   string
	Prompt  string
	History []Turn
}

// Citation is a source annotation returned by the upstream side.
type Citation struct {
	Text string `json:"text"`
	Page int    `json:"page,omitempty"`
}

// Completion is one finished answer.
type Completion struct {
	Text      string
	Citations []Citation
}

// Generator produces answers for chat prompts. All providers (Gemini,
// OpenAI-compatible) implement this interface.
type Generator interface {
	Generate(ctx context.Context, req Request) (Completion, error)
	// GenerateStream forwards answer fragments to onChunk as they arrive and
	// returns the full completion; Completion.Text equals the concatenation
	// of every chunk passed to onChunk.
	GenerateStream(ctx context.Context, req Request, onChunk func(chunk string)) (Completion, error)
}
