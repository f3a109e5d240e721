package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

// ModelExtractor extracts form fields with a chat completion call.
type ModelExtractor struct {
	Provider Provider
	Model    string
	Timeout  time.Duration
}

func (x *ModelExtractor) Extract(ctx context.Context, text string, schema []forms.Field) (domain.Extraction, error) {
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	resp, err := x.Provider.Complete(ctx, CompletionRequest{
		Model: x.Model,
		Messages: []Message{
			{Role: RoleSystem, Content: extractPrompt(schema)},
			{Role: RoleUser, Content: text},
		},
		MaxTokens:   500,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract: %w", err)
	}
	return ParseExtraction(resp.Content)
}

func extractPrompt(schema []forms.Field) string {
	var b strings.Builder
	b.WriteString("You extract data for club finance requests.\n\nExtract these fields from the user's message:\n")
	for _, f := range schema {
		desc := f.Description
		if desc == "" {
			desc = forms.Readable(f.Name)
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, desc)
	}
	b.WriteString(`
Rules:
- Extract ONLY fields explicitly mentioned or strongly implied
- Dates as YYYY-MM-DD, amounts as numbers without currency symbols
- If unsure, omit the field

Return ONLY valid JSON:
{"fields": {"total_amount": 180.0, "vendor_name": "Restaurant ABC"}, "confidence": {"total_amount": 0.95, "vendor_name": 0.87}}`)
	return b.String()
}

// ParseExtraction decodes {"fields":{...},"confidence":{...}}. Confidence
// entries that are not numbers are dropped; the rest are clamped to [0,1].
func ParseExtraction(content string) (domain.Extraction, error) {
	var raw struct {
		Fields     map[string]any `json:"fields"`
		Confidence map[string]any `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return domain.Extraction{}, &ParseError{Op: "extract", Content: content, Err: err}
	}
	out := domain.Extraction{
		Fields:     map[string]any{},
		Confidence: map[string]float64{},
	}
	for k, v := range raw.Fields {
		if v == nil {
			continue
		}
		out.Fields[k] = v
	}
	for k, v := range raw.Confidence {
		if f, ok := v.(float64); ok {
			out.Confidence[k] = clamp01(f)
		}
	}
	return out, nil
}
