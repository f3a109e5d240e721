package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clubtreasurer/internal/domain"
)

// ParseError reports model output that could not be decoded.
type ParseError struct {
	Op      string
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed model output: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const classifyPrompt = `You classify club finance requests.

Classify the user's request into ONE of these 4 form types:

1. supplier_payment: an external vendor or supplier sent an invoice that is not yet paid.
   Keywords: invoice, supplier, vendor, payment due, bill from a company.
2. internal_transfer: moving funds between clubs, for example for a joint event.
   Keywords: transfer, send to another club, joint event, collaboration.
3. expense_reimbursement: the member already paid out of pocket and wants the money back.
   Keywords: reimburse, paid already, personal card, need money back, have a receipt.
4. refund_request: a member wants a ticket or fee refunded.
   Keywords: refund, cancel ticket, membership refund, paid in error.

Return ONLY JSON: {"form_type": "expense_reimbursement", "confidence": 0.95, "reasoning": "User said they already paid"}`

// ModelClassifier classifies intent with a chat completion call.
type ModelClassifier struct {
	Provider Provider
	Model    string
	// Timeout bounds each call; zero means no extra deadline.
	Timeout time.Duration
}

func (c *ModelClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	resp, err := c.Provider.Complete(ctx, CompletionRequest{
		Model: c.Model,
		Messages: []Message{
			{Role: RoleSystem, Content: classifyPrompt},
			{Role: RoleUser, Content: "Classify this request: " + text},
		},
		MaxTokens:   150,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}
	return ParseClassification(resp.Content)
}

// ParseClassification decodes {"form_type","confidence","reasoning"}.
func ParseClassification(content string) (domain.Classification, error) {
	var raw struct {
		FormType   string   `json:"form_type"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return domain.Classification{}, &ParseError{Op: "classify", Content: content, Err: err}
	}
	ft, err := domain.ParseFormType(raw.FormType)
	if err != nil {
		return domain.Classification{}, &ParseError{Op: "classify", Content: content, Err: err}
	}
	if raw.Confidence == nil {
		return domain.Classification{}, &ParseError{Op: "classify", Content: content, Err: fmt.Errorf("confidence missing")}
	}
	return domain.Classification{
		FormType:   ft,
		Confidence: clamp01(*raw.Confidence),
		Reasoning:  raw.Reasoning,
	}, nil
}

// stripFences removes a surrounding ```json fence some models add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
