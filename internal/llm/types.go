package llm

import (
	"context"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// CompletionRequest contains the parameters for a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// Classifier maps free text to one of the four form types.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// Extractor pulls field values for the given schema out of free text.
type Extractor interface {
	Extract(ctx context.Context, text string, schema []forms.Field) (domain.Extraction, error)
}
