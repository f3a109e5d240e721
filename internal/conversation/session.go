package conversation

import (
	"fmt"
	"sort"
	"time"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
)

// Session is the mutable state of one member conversation. It is owned by a
// single goroutine at a time; Manager enforces that for shared use.
type Session struct {
	ID         string
	MemberID   string
	History    []domain.Turn
	Phase      domain.Phase
	FormType   domain.FormType
	Suggested  domain.FormType
	Fields     map[string]any
	Confidence map[string]float64
	Required   []string
	Missing    []string
	Validation domain.ValidationResult
	RequestID  string
	// Asked records every field the assistant has asked for, in order.
	Asked     []string
	CreatedAt time.Time
	UpdatedAt time.Time

	defaults Defaults
}

// Progress counts required fields the member supplied. Defaults are left out
// of both numbers.
type Progress struct {
	Collected int `json:"collected"`
	Total     int `json:"total"`
}

// Snapshot is the read-only view handed to UIs.
type Snapshot struct {
	SessionID         string                  `json:"session_id"`
	MemberID          string                  `json:"member_id,omitempty"`
	Phase             domain.Phase            `json:"phase" enum:"gathering_intent,awaiting_confirmation,collecting_fields,validating,complete"`
	FormType          string                  `json:"form_type,omitempty"`
	SuggestedFormType string                  `json:"suggested_form_type,omitempty"`
	Fields            map[string]any          `json:"fields"`
	MissingFields     []string                `json:"missing_fields"`
	Validation        domain.ValidationResult `json:"validation"`
	Confidence        float64                 `json:"confidence"`
	FieldConfidence   map[string]float64      `json:"field_confidence"`
	Progress          Progress                `json:"progress"`
	RequestID         string                  `json:"request_id,omitempty"`
	Status            string                  `json:"status"`
	Turns             int                     `json:"turns"`
	History           []domain.Turn           `json:"history"`
}

func newSession(id, memberID string, defaults Defaults, now time.Time) *Session {
	s := &Session{ID: id, MemberID: memberID, CreatedAt: now}
	s.reset(defaults, now)
	return s
}

func (s *Session) reset(defaults Defaults, now time.Time) {
	s.defaults = defaults
	s.History = nil
	s.Phase = domain.PhaseGatheringIntent
	s.FormType = domain.FormUnknown
	s.Suggested = domain.FormUnknown
	s.Fields = defaults.Fields()
	s.Confidence = map[string]float64{}
	s.Required = nil
	s.Missing = nil
	s.Validation = emptyValidation()
	s.RequestID = ""
	s.Asked = nil
	s.UpdatedAt = now
}

func emptyValidation() domain.ValidationResult {
	return domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
}

func (s *Session) appendTurn(speaker domain.Speaker, text string, now time.Time) {
	s.History = append(s.History, domain.Turn{Speaker: speaker, Text: text, At: now.UTC().Format(time.RFC3339)})
	s.UpdatedAt = now
}

// merge applies extracted values, last write wins. Nil values are skipped so
// a field is never removed.
func (s *Session) merge(ex domain.Extraction) []string {
	var changed []string
	for k, v := range ex.Fields {
		if v == nil {
			continue
		}
		s.Fields[k] = v
		changed = append(changed, k)
	}
	for k, c := range ex.Confidence {
		if _, ok := s.Fields[k]; ok {
			s.Confidence[k] = c
		}
	}
	sort.Strings(changed)
	return changed
}

func (s *Session) recomputeMissing() {
	s.Missing = forms.Missing(s.Required, s.Fields)
}

func (s *Session) markAsked(fields []string) {
	seen := make(map[string]bool, len(s.Asked))
	for _, f := range s.Asked {
		seen[f] = true
	}
	for _, f := range fields {
		if !seen[f] {
			s.Asked = append(s.Asked, f)
			seen[f] = true
		}
	}
}

// Progress reports collected/total required fields, not counting defaults.
func (s *Session) Progress() Progress {
	var p Progress
	missing := make(map[string]bool, len(s.Missing))
	for _, m := range s.Missing {
		missing[m] = true
	}
	for _, f := range s.Required {
		if s.defaults.Has(f) {
			continue
		}
		p.Total++
		if !missing[f] {
			p.Collected++
		}
	}
	return p
}

// OverallConfidence is the mean of the recorded field confidences.
func (s *Session) OverallConfidence() float64 {
	return OverallConfidence(s.Confidence)
}

// OverallConfidence averages per-field scores, clamped to at most 1. An
// empty map yields 0.
func OverallConfidence(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	mean := sum / float64(len(scores))
	if mean > 1 {
		return 1
	}
	return mean
}

// Status is a one-line description of where the conversation is.
func (s *Session) Status() string {
	if s.RequestID != "" {
		return fmt.Sprintf("Submitted as %s", s.RequestID)
	}
	switch s.Phase {
	case domain.PhaseAwaitingConfirmation:
		return fmt.Sprintf("Confirming request type: %s", s.Suggested.DisplayName())
	case domain.PhaseCollectingFields:
		p := s.Progress()
		return fmt.Sprintf("Collecting details for %s (%d/%d fields)", s.FormType.DisplayName(), p.Collected, p.Total)
	case domain.PhaseValidating:
		return "Validation issues found"
	case domain.PhaseComplete:
		return "Validation complete, ready to submit"
	default:
		return "Understanding your request"
	}
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	conf := make(map[string]float64, len(s.Confidence))
	for k, v := range s.Confidence {
		conf[k] = v
	}
	v := s.Validation
	v.Errors = append([]string{}, v.Errors...)
	v.Warnings = append([]string{}, v.Warnings...)
	return Snapshot{
		SessionID:         s.ID,
		MemberID:          s.MemberID,
		Phase:             s.Phase,
		FormType:          s.FormType.String(),
		SuggestedFormType: s.Suggested.String(),
		Fields:            fields,
		MissingFields:     append([]string{}, s.Missing...),
		Validation:        v,
		Confidence:        s.OverallConfidence(),
		FieldConfidence:   conf,
		Progress:          s.Progress(),
		RequestID:         s.RequestID,
		Status:            s.Status(),
		Turns:             len(s.History),
		History:           append([]domain.Turn{}, s.History...),
	}
}
