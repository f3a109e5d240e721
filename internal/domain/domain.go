package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormType is one of the four finance request forms.
type FormType int

const (
	FormUnknown FormType = iota
	SupplierPayment
	InternalTransfer
	ExpenseReimbursement
	RefundRequest
)

// FormTypes lists every form in menu order.
var FormTypes = []FormType{SupplierPayment, InternalTransfer, ExpenseReimbursement, RefundRequest}

func (f FormType) String() string {
	switch f {
	case SupplierPayment:
		return "supplier_payment"
	case InternalTransfer:
		return "internal_transfer"
	case ExpenseReimbursement:
		return "expense_reimbursement"
	case RefundRequest:
		return "refund_request"
	default:
		return ""
	}
}

// DisplayName is the label shown to members.
func (f FormType) DisplayName() string {
	switch f {
	case SupplierPayment:
		return "Vendor Payment"
	case InternalTransfer:
		return "Internal Transfer"
	case ExpenseReimbursement:
		return "Expense Reimbursement"
	case RefundRequest:
		return "Member Refund"
	default:
		return "Request"
	}
}

// Valid reports whether f names one of the four forms.
func (f FormType) Valid() bool {
	return f >= SupplierPayment && f <= RefundRequest
}

// ParseFormType accepts the wire names used in config, the API and model output.
func ParseFormType(s string) (FormType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supplier_payment", "vendor_payment":
		return SupplierPayment, nil
	case "internal_transfer":
		return InternalTransfer, nil
	case "expense_reimbursement", "reimbursement":
		return ExpenseReimbursement, nil
	case "refund_request", "member_refund", "refund":
		return RefundRequest, nil
	}
	return FormUnknown, fmt.Errorf("unknown form type %q", s)
}

func (f FormType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FormType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*f = FormUnknown
		return nil
	}
	parsed, err := ParseFormType(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Phase is the conversation state.
type Phase string

const (
	PhaseGatheringIntent      Phase = "gathering_intent"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseCollectingFields     Phase = "collecting_fields"
	PhaseValidating           Phase = "validating"
	PhaseComplete             Phase = "complete"
)

// HasFormType reports whether a confirmed form type is expected in this phase.
func (p Phase) HasFormType() bool {
	return p == PhaseCollectingFields || p == PhaseValidating || p == PhaseComplete
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	At      string  `json:"at" format:"date-time"`
}

// CodeEntry is one row of the event code directory.
type CodeEntry struct {
	Code      string `json:"code"`
	Club      string `json:"club"`
	Event     string `json:"event"`
	Category  string `json:"category,omitempty"`
	TaxStatus string `json:"tax_status,omitempty"`
	Year      string `json:"year,omitempty"`
}

type ValidationResult struct {
	CanSubmit           bool     `json:"can_submit"`
	Errors              []string `json:"errors"`
	Warnings            []string `json:"warnings"`
	PreApprovalRequired bool     `json:"pre_approval_required"`
}

// Classification is the intent classifier output.
type Classification struct {
	FormType   FormType `json:"form_type"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Extraction is the field extractor output.
type Extraction struct {
	Fields     map[string]any     `json:"fields"`
	Confidence map[string]float64 `json:"confidence"`
}

// Submission is the finalized record handed to persistence.
type Submission struct {
	SessionID  string           `json:"session_id"`
	ActorID    string           `json:"actor_id"`
	FormType   FormType         `json:"form_type"`
	Fields     map[string]any   `json:"fields"`
	Validation ValidationResult `json:"validation"`
}

type RequestStatus string

const (
	StatusPendingReview RequestStatus = "pending_review"
	StatusApproved      RequestStatus = "approved"
	StatusRejected      RequestStatus = "rejected"
	StatusOnHold        RequestStatus = "on_hold"
)

type Request struct {
	ID                  string           `json:"id"`
	SessionID           string           `json:"session_id,omitempty"`
	MemberID            string           `json:"member_id"`
	FormType            FormType         `json:"form_type"`
	Status              RequestStatus    `json:"status" enum:"pending_review,approved,rejected,on_hold"`
	Amount              float64          `json:"amount"`
	EventCode           string           `json:"event_code,omitempty"`
	Fields              map[string]any   `json:"fields"`
	Validation          ValidationResult `json:"validation"`
	PreApprovalRequired bool             `json:"pre_approval_required"`
	Treasurer           string           `json:"treasurer,omitempty"`
	Notes               string           `json:"notes,omitempty"`
	CreatedAt           string           `json:"created_at" format:"date-time"`
	UpdatedAt           string           `json:"updated_at" format:"date-time"`
	DecidedAt           *string          `json:"decided_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PayloadMap decodes the event payload, returning an empty map when it is not JSON.
func (e Event) PayloadMap() map[string]any {
	out := map[string]any{}
	if e.Payload == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.Payload), &out)
	return out
}
