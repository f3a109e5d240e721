// Package forms holds the per-form tables: field schema, question groups and
// the field aliases the validator reads amounts and codes from.
package forms

import (
	"clubtreasurer/internal/domain"
)

// Field is one entry of a form schema, as passed to the extractor.
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Schema describes one form type.
type Schema struct {
	Type   domain.FormType
	Fields []Field
	// Groups partitions the required fields into question batches, in order.
	Groups         [][]string
	AmountFields   []string
	AttendeeFields []string
}

// CodeFields are the aliases a reference code may be recorded under, in lookup order.
var CodeFields = []string{"event_code", "event_finance_code", "initiating_club_event_code"}

var schemas = map[domain.FormType]Schema{
	domain.SupplierPayment: {
		Type: domain.SupplierPayment,
		Fields: []Field{
			{Name: "vendor_name", Description: "Vendor or supplier name", Required: true},
			{Name: "invoice_number", Description: "Invoice number", Required: true},
			{Name: "total_amount", Description: "Total invoice amount (number, no currency symbol)", Required: true},
			{Name: "event_code", Description: "Event finance code from the Event Code Directory", Required: true},
			{Name: "invoice_description", Description: "What the invoice is for", Required: true},
			{Name: "invoice_upload", Description: "Invoice file (PDF or image)", Required: true},
			{Name: "event_name", Description: "Name of the event the invoice relates to"},
			{Name: "club_name", Description: "Club responsible for the payment"},
			{Name: "due_date", Description: "Invoice due date (YYYY-MM-DD)"},
		},
		Groups: [][]string{
			{"vendor_name", "invoice_number", "total_amount"},
			{"event_code", "invoice_description"},
			{"invoice_upload"},
		},
		AmountFields: []string{"total_amount", "amount", "invoice_amount"},
	},
	domain.InternalTransfer: {
		Type: domain.InternalTransfer,
		Fields: []Field{
			{Name: "recipient_club", Description: "Club receiving the funds", Required: true},
			{Name: "transfer_amount", Description: "Amount to transfer (number)", Required: true},
			{Name: "event_code", Description: "Event finance code from the Event Code Directory", Required: true},
			{Name: "transfer_purpose", Description: "Purpose of the transfer", Required: true},
			{Name: "transfer_date", Description: "Date of the transfer (YYYY-MM-DD)", Required: true},
			{Name: "event_name", Description: "Name of the joint event, if any"},
			{Name: "club_name", Description: "Club sending the funds"},
		},
		Groups: [][]string{
			{"recipient_club", "transfer_amount", "event_code"},
			{"transfer_purpose", "transfer_date"},
		},
		AmountFields: []string{"transfer_amount", "amount"},
	},
	domain.ExpenseReimbursement: {
		Type: domain.ExpenseReimbursement,
		Fields: []Field{
			{Name: "expense_date", Description: "Date of the expense (YYYY-MM-DD)", Required: true},
			{Name: "total_claim_amount", Description: "Total amount to reimburse (number)", Required: true},
			{Name: "currency", Description: "Currency of the expense", Required: true},
			{Name: "merchant_name", Description: "Where the purchase was made", Required: true},
			{Name: "expense_description", Description: "What the expense was for", Required: true},
			{Name: "event_code", Description: "Event finance code from the Event Code Directory", Required: true},
			{Name: "receipt_upload", Description: "Itemised receipt (PDF or image)", Required: true},
			{Name: "event_name", Description: "Name of the event"},
			{Name: "club_name", Description: "Club the expense was for"},
			{Name: "is_social_event", Description: "Whether this was a social event (true/false)"},
			{Name: "number_of_attendees", Description: "How many people attended (number)"},
		},
		Groups: [][]string{
			{"expense_date", "total_claim_amount", "currency"},
			{"merchant_name", "expense_description", "event_code"},
			{"receipt_upload"},
		},
		AmountFields:   []string{"total_claim_amount", "amount"},
		AttendeeFields: []string{"number_of_attendees", "attendees"},
	},
	domain.RefundRequest: {
		Type: domain.RefundRequest,
		Fields: []Field{
			{Name: "member_name", Description: "Name of the member being refunded", Required: true},
			{Name: "member_email", Description: "Email of the member being refunded", Required: true},
			{Name: "refund_amount", Description: "Amount to refund (number)", Required: true},
			{Name: "refund_reason", Description: "Reason for the refund", Required: true},
			{Name: "event_code", Description: "Event finance code from the Event Code Directory", Required: true},
			{Name: "original_payment_date", Description: "Date of the original payment (YYYY-MM-DD)", Required: true},
			{Name: "event_name", Description: "Event the original payment was for"},
			{Name: "club_name", Description: "Club that took the original payment"},
		},
		Groups: [][]string{
			{"member_name", "member_email", "refund_amount"},
			{"refund_reason", "event_code", "original_payment_date"},
		},
		AmountFields: []string{"refund_amount", "amount"},
	},
}

// Lookup returns the schema for a form type.
func Lookup(ft domain.FormType) (Schema, bool) {
	s, ok := schemas[ft]
	return s, ok
}

// Required returns the ordered required field names of a form type.
func Required(ft domain.FormType) []string {
	s, ok := schemas[ft]
	if !ok {
		return nil
	}
	return s.Required()
}

// Required returns the ordered required field names, group by group.
func (s Schema) Required() []string {
	if len(s.Groups) == 0 {
		var out []string
		for _, f := range s.Fields {
			if f.Required {
				out = append(out, f.Name)
			}
		}
		return out
	}
	var out []string
	for _, g := range s.Groups {
		out = append(out, g...)
	}
	return out
}

// Describe returns the human description for a field, falling back to a title-cased name.
func (s Schema) Describe(name string) string {
	for _, f := range s.Fields {
		if f.Name == name && f.Description != "" {
			return f.Description
		}
	}
	return Readable(name)
}

// NextGroup returns the outstanding fields of the first group that still has any.
// A schema without groups asks for everything missing at once.
func (s Schema) NextGroup(missing []string) []string {
	if len(missing) == 0 {
		return nil
	}
	if len(s.Groups) == 0 {
		return append([]string(nil), missing...)
	}
	outstanding := make(map[string]bool, len(missing))
	for _, m := range missing {
		outstanding[m] = true
	}
	for _, g := range s.Groups {
		var pending []string
		for _, f := range g {
			if outstanding[f] {
				pending = append(pending, f)
			}
		}
		if len(pending) > 0 {
			return pending
		}
	}
	return append([]string(nil), missing...)
}

// Missing returns the required fields that are absent or falsy in fields.
func Missing(required []string, fields map[string]any) []string {
	var out []string
	for _, name := range required {
		if !Truthy(fields[name]) {
			out = append(out, name)
		}
	}
	return out
}

// FirstPresent returns the first alias with a truthy value.
func FirstPresent(fields map[string]any, aliases []string) (string, any, bool) {
	for _, a := range aliases {
		if v, ok := fields[a]; ok && Truthy(v) {
			return a, v, true
		}
	}
	return "", nil, false
}
