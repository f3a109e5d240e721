package llm

import (
	"context"
	"strings"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

// OfflineClassifier classifies with a keyword table. It is used when no model
// is configured and in local development.
type OfflineClassifier struct{}

var offlineHints = []struct {
	form    domain.FormType
	phrases []string
}{
	{domain.ExpenseReimbursement, []string{"personal card", "money back", "receipt", "paid for"}},
	{domain.RefundRequest, []string{"cancel", "ticket", "paid in error"}},
	{domain.InternalTransfer, []string{"another club", "joint event", "collaboration"}},
	{domain.SupplierPayment, []string{"bill", "payment due"}},
}

func (OfflineClassifier) Classify(_ context.Context, text string) (domain.Classification, error) {
	if ft, ok := forms.DetectType(text); ok {
		return domain.Classification{FormType: ft, Confidence: 0.9, Reasoning: "keyword match"}, nil
	}
	tokens := forms.Tokens(text)
	for _, h := range offlineHints {
		if forms.ContainsAny(tokens, h.phrases) {
			return domain.Classification{FormType: h.form, Confidence: 0.75, Reasoning: "phrase match"}, nil
		}
	}
	return domain.Classification{Confidence: 0}, nil
}

// OfflineExtractor reads "field: value" lines. Field names match either the
// schema name or its title-cased form, so "Vendor Name: Acme" and
// "vendor_name = Acme" both work.
type OfflineExtractor struct{}

func (OfflineExtractor) Extract(_ context.Context, text string, schema []forms.Field) (domain.Extraction, error) {
	known := make(map[string]string, len(schema))
	for _, f := range schema {
		known[normalizeKey(f.Name)] = f.Name
	}
	out := domain.Extraction{Fields: map[string]any{}, Confidence: map[string]float64{}}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ';' }) {
		key, value, ok := splitPair(line)
		if !ok {
			continue
		}
		name, ok := known[normalizeKey(key)]
		if !ok {
			continue
		}
		out.Fields[name] = typedValue(name, value)
		out.Confidence[name] = 0.9
	}
	return out, nil
}

func splitPair(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return strings.Trim(s, "_")
}

func typedValue(name, value string) any {
	if strings.HasPrefix(name, "is_") {
		return forms.Bool(value)
	}
	if strings.Contains(name, "amount") || strings.Contains(name, "attendees") {
		if f, ok := forms.Number(value); ok {
			return f
		}
		return value
	}
	return value
}
