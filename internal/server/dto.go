package server

import (
	"clubtreasurer/internal/codedir"
	"clubtreasurer/internal/conversation"
	"clubtreasurer/internal/domain"
)

// Request payloads

type CreateSessionRequest struct {
	MemberID string `json:"member_id,omitempty" doc:"Member identifier; the X-Member-Id header or token subject wins when present"`
}

type MessageRequest struct {
	Text string `json:"text" minLength:"1" example:"I need to pay an invoice from Acme Catering"`
}

type DecisionRequest struct {
	Notes string `json:"notes,omitempty" example:"All documentation in order"`
}

// Response payloads

type SessionResponse struct {
	Greeting string                `json:"greeting,omitempty"`
	Session  conversation.Snapshot `json:"session"`
}

type MessageResponse struct {
	Reply   string                `json:"reply"`
	Session conversation.Snapshot `json:"session"`
}

type SubmitResponse struct {
	RequestID string                `json:"request_id"`
	Session   conversation.Snapshot `json:"session"`
}

type RequestResponse struct {
	ID                  string                  `json:"id"`
	SessionID           string                  `json:"session_id,omitempty"`
	MemberID            string                  `json:"member_id"`
	FormType            string                  `json:"form_type" enum:"supplier_payment,internal_transfer,expense_reimbursement,refund_request"`
	FormName            string                  `json:"form_name"`
	Status              string                  `json:"status" enum:"pending_review,approved,rejected,on_hold"`
	Amount              float64                 `json:"amount"`
	EventCode           string                  `json:"event_code,omitempty"`
	Fields              map[string]any          `json:"fields"`
	Validation          domain.ValidationResult `json:"validation"`
	PreApprovalRequired bool                    `json:"pre_approval_required"`
	Treasurer           string                  `json:"treasurer,omitempty"`
	Notes               string                  `json:"notes,omitempty"`
	CreatedAt           string                  `json:"created_at" format:"date-time"`
	UpdatedAt           string                  `json:"updated_at" format:"date-time"`
	DecidedAt           string                  `json:"decided_at,omitempty" format:"date-time"`
}

type RequestList struct {
	Items  []RequestResponse `json:"items"`
	Counts map[string]int    `json:"counts"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

type CodeList struct {
	Items  []domain.CodeEntry `json:"items"`
	Loaded bool               `json:"loaded"`
}

type SuggestionResponse struct {
	Code       string  `json:"code"`
	Club       string  `json:"club"`
	Event      string  `json:"event"`
	Confidence float64 `json:"confidence"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	CodesLoaded   bool   `json:"codes_loaded"`
	CodeDirectory int    `json:"code_directory_entries"`
}

// Conversion helpers

func requestResponse(r domain.Request) RequestResponse {
	res := RequestResponse{
		ID:                  r.ID,
		SessionID:           r.SessionID,
		MemberID:            r.MemberID,
		FormType:            r.FormType.String(),
		FormName:            r.FormType.DisplayName(),
		Status:              string(r.Status),
		Amount:              r.Amount,
		EventCode:           r.EventCode,
		Fields:              r.Fields,
		Validation:          r.Validation,
		PreApprovalRequired: r.PreApprovalRequired,
		Treasurer:           r.Treasurer,
		Notes:               r.Notes,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if res.Fields == nil {
		res.Fields = map[string]any{}
	}
	if res.Validation.Errors == nil {
		res.Validation.Errors = []string{}
	}
	if res.Validation.Warnings == nil {
		res.Validation.Warnings = []string{}
	}
	if r.DecidedAt != nil {
		res.DecidedAt = *r.DecidedAt
	}
	return res
}

func mapRequests(items []domain.Request) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, requestResponse(r))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.PayloadMap(),
	}
}

func suggestionResponse(s codedir.Suggestion) SuggestionResponse {
	return SuggestionResponse{Code: s.Code, Club: s.Club, Event: s.Event, Confidence: s.Confidence}
}
