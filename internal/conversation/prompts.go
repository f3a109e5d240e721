package conversation

import (
	"fmt"
	"sort"
	"strings"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

var menuDescriptions = map[domain.FormType]string{
	domain.SupplierPayment:      "Paying an external company or vendor for an invoice",
	domain.InternalTransfer:     "Moving funds between clubs",
	domain.ExpenseReimbursement: "Getting reimbursed for money you already spent",
	domain.RefundRequest:        "Refunding a member for tickets or fees",
}

func menu() string {
	var b strings.Builder
	for i, ft := range domain.FormTypes {
		fmt.Fprintf(&b, "%d. **%s** - %s\n", i+1, ft.DisplayName(), menuDescriptions[ft])
	}
	b.WriteString("\nYou can reply with the number or name.")
	return b.String()
}

func greetingText(club string) string {
	if club == "" {
		club = "your club"
	}
	return fmt.Sprintf("Hi! I'll help you submit a finance request for %s. Can you describe what you need? For example:\n"+
		"- 'I need to be reimbursed for...'\n"+
		"- 'I have an invoice from...'\n"+
		"- 'I want to transfer funds to...'\n"+
		"- 'A member needs a refund for...'", club)
}

func menuText() string {
	return "I'd like to help with your finance request. What type of transaction is this?\n\nPlease choose one:\n" + menu()
}

func explicitTypeText() string {
	return "I understand. Which type of request is this?\n\n" + menu()
}

func confirmText(ft domain.FormType) string {
	return fmt.Sprintf("Based on what you've described, it looks like you need a **%s** form.\n\n"+
		"Is that correct? (Please reply 'yes' to proceed or 'no' if I misunderstood)", ft.DisplayName())
}

func reconfirmText(ft domain.FormType) string {
	return fmt.Sprintf("Just to confirm, is this a **%s** request? Please answer 'yes' or 'no'.", ft.DisplayName())
}

func lackInfoText(contact string) string {
	if contact == "" {
		contact = "your club treasurer"
	}
	return fmt.Sprintf("No problem! If you don't have this information to hand, please reach out to the treasurer at **%s** for help.\n\n"+
		"They can help you find the missing details. Carry on here whenever you have them.", contact)
}

func submittedText(requestID string) string {
	return fmt.Sprintf("This request has already been submitted as **%s** and is with the treasurer. "+
		"Reset the conversation to start a new request.", requestID)
}

func submitAckText(requestID string) string {
	return fmt.Sprintf("Submitted! Your request ID is **%s**. The treasurer will review it and you will be notified of the decision.", requestID)
}

// fieldsText asks for one group of fields. The first question of a form
// introduces it; later ones show progress.
func fieldsText(s *Session, group []string, club string) string {
	schema, _ := forms.Lookup(s.FormType)
	lines := make([]string, 0, len(group))
	for _, f := range group {
		lines = append(lines, fmt.Sprintf("- **%s**", schema.Describe(f)))
	}
	p := s.Progress()
	if p.Collected == 0 {
		if club == "" {
			club = "your club"
		}
		return fmt.Sprintf("Great! I'll help you with a **%s** request for %s.\n\nLet's start with the basics:\n\n%s\n\n"+
			"Please provide the information above. You can give several details at once.",
			s.FormType.DisplayName(), club, strings.Join(lines, "\n"))
	}
	return fmt.Sprintf("Great progress! (%d/%d fields collected)\n\nNext, I need:\n\n%s\n\nPlease provide these details.",
		p.Collected, p.Total, strings.Join(lines, "\n"))
}

// summaryText lists every collected field, required ones first, followed by
// the validation outcome.
func summaryText(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s Summary\n\n### Details:\n", s.FormType.DisplayName())
	for _, k := range summaryOrder(s) {
		fmt.Fprintf(&b, "- **%s:** %s\n", forms.Readable(k), displayValue(s.Fields[k]))
	}
	v := s.Validation
	if v.PreApprovalRequired {
		b.WriteString("\n### Pre-Approval Required\n")
		for _, w := range v.Warnings {
			b.WriteString(w + "\n")
		}
	} else if len(v.Warnings) > 0 {
		b.WriteString("\n### Notes\n")
		for _, w := range v.Warnings {
			b.WriteString(w + "\n")
		}
	}
	if len(v.Errors) > 0 {
		b.WriteString("\n### Issues to Fix\n")
		for _, e := range v.Errors {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("\nPlease correct the above issues. Send the corrected details and I will check again.")
	} else if v.CanSubmit {
		b.WriteString("\n**Ready to submit!** Submit the request to send it for treasurer review.")
	}
	return b.String()
}

func summaryOrder(s *Session) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range s.Required {
		if _, ok := s.Fields[f]; ok {
			out = append(out, f)
			seen[f] = true
		}
	}
	var rest []string
	for k := range s.Fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func displayValue(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%.2f", t)
	}
	return fmt.Sprint(v)
}
