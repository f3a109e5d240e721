package forms

import (
	"strings"

	"clubtreasurer/internal/domain"
)

type typeKeywords struct {
	form    domain.FormType
	stems   []string
	phrases []string
}

// Checked in order; the first form with a hit wins.
var typeTable = []typeKeywords{
	{form: domain.SupplierPayment, stems: []string{"vendor", "supplier", "invoice"}},
	{form: domain.InternalTransfer, stems: []string{"transfer", "internal"}, phrases: []string{"between clubs", "club to club"}},
	{form: domain.ExpenseReimbursement, stems: []string{"reimburs", "expense", "spent"}, phrases: []string{"out of pocket", "already paid"}},
	{form: domain.RefundRequest, stems: []string{"refund"}},
}

var ordinals = map[string]domain.FormType{
	"1": domain.SupplierPayment, "one": domain.SupplierPayment, "first": domain.SupplierPayment,
	"2": domain.InternalTransfer, "two": domain.InternalTransfer, "second": domain.InternalTransfer,
	"3": domain.ExpenseReimbursement, "three": domain.ExpenseReimbursement, "third": domain.ExpenseReimbursement,
	"4": domain.RefundRequest, "four": domain.RefundRequest, "fourth": domain.RefundRequest,
}

// DetectType finds an explicitly named form type in text, either by keyword
// or by a bare menu number.
func DetectType(text string) (domain.FormType, bool) {
	tokens := Tokens(text)
	for _, entry := range typeTable {
		for _, tok := range tokens {
			for _, stem := range entry.stems {
				if strings.HasPrefix(tok, stem) {
					return entry.form, true
				}
			}
		}
		if ContainsAny(tokens, entry.phrases) {
			return entry.form, true
		}
	}
	return MenuChoice(text)
}

// MenuChoice reads a reply that is only a menu number such as "2" or "second".
func MenuChoice(text string) (domain.FormType, bool) {
	ft, ok := ordinals[strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))]
	return ft, ok
}
