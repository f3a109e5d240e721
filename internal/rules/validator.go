// Package rules checks a collected record against the per-form finance policy.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"clubtreasurer/internal/config"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

// CodeSet is the view of the code directory the validator needs.
type CodeSet interface {
	Loaded() bool
	Valid(code string) bool
}

// Validator is immutable and safe for concurrent use. A nil Rules skips the
// threshold and cap checks; a nil or unloaded Codes skips the code check.
type Validator struct {
	Rules    *config.Rules
	Codes    CodeSet
	Currency string
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", time.RFC3339}

// Validate evaluates fields for form type ft.
func (v Validator) Validate(fields map[string]any, ft domain.FormType) domain.ValidationResult {
	res := domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
	schema, ok := forms.Lookup(ft)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("Unknown form type %q", ft.String()))
		return res
	}
	if missing := forms.Missing(schema.Required(), fields); len(missing) > 0 {
		res.Errors = append(res.Errors, "Missing required fields: "+strings.Join(missing, ", "))
		return res
	}

	amount, amountOK := v.amount(fields, schema, &res)
	rs, haveRules := v.ruleSet(ft)

	if amountOK && haveRules {
		if rs.PreApprovalThreshold > 0 && amount > rs.PreApprovalThreshold {
			res.PreApprovalRequired = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s requests over %s require senior treasurer pre-approval",
				ft.DisplayName(), v.money(rs.PreApprovalThreshold)))
		}
		if ft == domain.ExpenseReimbursement && rs.PerHeadCap > 0 && forms.Bool(fields["is_social_event"]) {
			if _, raw, ok := forms.FirstPresent(fields, schema.AttendeeFields); ok {
				if attendees, ok := forms.Number(raw); ok && attendees > 0 {
					if perHead := amount / attendees; perHead > rs.PerHeadCap {
						res.Errors = append(res.Errors, fmt.Sprintf("Social events are limited to %s per head (current: %s)",
							v.money(rs.PerHeadCap), v.money(perHead)))
					}
				}
			}
		}
	}

	if !haveRules || rs.RequireValidCode {
		v.checkCode(fields, &res)
	}
	v.checkDates(fields, &res)

	res.CanSubmit = len(res.Errors) == 0
	return res
}

func (v Validator) ruleSet(ft domain.FormType) (config.RuleSet, bool) {
	if v.Rules == nil {
		return config.RuleSet{}, false
	}
	return v.Rules.For(ft)
}

func (v Validator) amount(fields map[string]any, schema forms.Schema, res *domain.ValidationResult) (float64, bool) {
	if len(schema.AmountFields) == 0 {
		return 0, false
	}
	name, raw, ok := forms.FirstPresent(fields, schema.AmountFields)
	if !ok {
		return 0, false
	}
	amount, ok := forms.Number(raw)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("%s %q is not a number", forms.Readable(name), fmt.Sprint(raw)))
		return 0, false
	}
	if amount <= 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%s must be greater than zero", forms.Readable(name)))
		return 0, false
	}
	return amount, true
}

func (v Validator) checkCode(fields map[string]any, res *domain.ValidationResult) {
	if v.Codes == nil || !v.Codes.Loaded() {
		return
	}
	_, raw, ok := forms.FirstPresent(fields, forms.CodeFields)
	if !ok {
		return
	}
	code := strings.TrimSpace(fmt.Sprint(raw))
	if v.Codes.Valid(code) {
		return
	}
	res.Errors = append(res.Errors, fmt.Sprintf("Invalid event code '%s'. Use a code from the Event Code Directory.", code))
	res.Warnings = append(res.Warnings, "Ask your treasurer for the correct event code, or tell me your club and event so I can suggest one.")
}

// checkDates warns about *_date fields that do not parse. Keys are visited in
// sorted order so the output is stable.
func (v Validator) checkDates(fields map[string]any, res *domain.ValidationResult) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if strings.HasSuffix(k, "_date") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := fields[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if !parsesAsDate(strings.TrimSpace(s)) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s %q is not a recognised date; use YYYY-MM-DD", forms.Readable(k), s))
		}
	}
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func (v Validator) money(amount float64) string {
	cur := v.Currency
	if cur == "" {
		cur = "GBP"
	}
	return fmt.Sprintf("%s %s", cur, formatAmount(amount))
}

// formatAmount renders 8000 as "8,000" and 100.5 as "100.50".
func formatAmount(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	s = strings.TrimSuffix(s, ".00")
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
