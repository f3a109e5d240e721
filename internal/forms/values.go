package forms

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// Truthy reports whether a collected value counts as provided.
// nil, false, zero numbers, blank strings and empty collections do not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Number converts a collected value to a float. Strings may carry a currency
// symbol and thousands separators.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeftFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '-' && r != '.' })
		s = strings.TrimRightFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// Bool converts a collected value to a boolean flag.
func Bool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
		return false
	}
	if f, ok := Number(v); ok {
		return f != 0
	}
	return false
}

// Readable turns a field name like "invoice_number" into "Invoice Number".
func Readable(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Tokens lowercases text and splits it into word tokens. Apostrophes stay
// inside words so "don't" is one token.
func Tokens(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// ContainsPhrase reports whether the token sequence phrase occurs in tokens.
func ContainsPhrase(tokens []string, phrase string) bool {
	want := Tokens(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of the phrases occurs in tokens.
func ContainsAny(tokens []string, phrases []string) bool {
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			return true
		}
	}
	return false
}
