// Package conversation runs the finance request dialogue: it classifies the
// request, confirms the form type, collects fields group by group and gates
// submission on validation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clubtreasurer/internal/codedir"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/forms"
	"clubtreasurer/internal/llm"
	"clubtreasurer/internal/logging"
)

// DefaultThreshold is the classifier confidence a suggestion must exceed.
const DefaultThreshold = 0.7

var (
	// ErrNotReady is returned by Submit before the record is complete and valid.
	ErrNotReady = errors.New("session is not ready to submit")

	// ErrAlreadySubmitted is returned by Submit once a request ID is recorded.
	ErrAlreadySubmitted = errors.New("session already submitted")

	// ErrSessionNotFound is returned by Manager for unknown or evicted sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionForbidden is returned by Manager.Authorize when the caller is
	// not the member who started the session.
	ErrSessionForbidden = errors.New("session belongs to another member")
)

// CodeSuggester proposes an event code for a club and event.
type CodeSuggester interface {
	Suggest(club, eventHint string) (codedir.Suggestion, bool)
}

// RecordValidator checks a complete record.
type RecordValidator interface {
	Validate(fields map[string]any, ft domain.FormType) domain.ValidationResult
}

// Persister stores a finished submission and returns its request ID.
type Persister interface {
	Persist(ctx context.Context, sub domain.Submission) (string, error)
}

// Reply is the outcome of one message.
type Reply struct {
	Text     string   `json:"reply"`
	Snapshot Snapshot `json:"snapshot"`
}

// Engine drives sessions through the dialogue. Collaborators may be nil:
// a nil Classifier or Extractor behaves as if the call returned nothing,
// and a nil Codes disables suggestion.
type Engine struct {
	Classifier llm.Classifier
	Extractor  llm.Extractor
	Codes      CodeSuggester
	Validator  RecordValidator
	Persister  Persister
	Defaults   Defaults
	// Threshold overrides DefaultThreshold when positive.
	Threshold float64
	Logger    *zap.Logger
	Now       func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Logger) }

func (e Engine) threshold() float64 {
	if e.Threshold > 0 {
		return e.Threshold
	}
	return DefaultThreshold
}

// NewSession starts a session for memberID with the engine defaults.
func (e Engine) NewSession(memberID string) *Session {
	return newSession(uuid.NewString(), memberID, e.Defaults, e.now())
}

// Greeting is the opening line shown before the first message.
func (e Engine) Greeting() string {
	return greetingText(e.Defaults.ClubName())
}

// Reset discards everything but the session ID and member, then re-applies
// the defaults.
func (e Engine) Reset(s *Session) {
	s.reset(e.Defaults, e.now())
	e.log().Info("session reset", zap.String("session_id", s.ID))
}

// ProcessMessage handles one member message. It never fails; collaborator
// errors are logged and treated as empty results.
func (e Engine) ProcessMessage(ctx context.Context, s *Session, text string) Reply {
	now := e.now()
	s.appendTurn(domain.SpeakerUser, text, now)
	reply := e.step(ctx, s, text)
	s.appendTurn(domain.SpeakerAssistant, reply, e.now())
	return Reply{Text: reply, Snapshot: s.Snapshot()}
}

func (e Engine) step(ctx context.Context, s *Session, text string) string {
	if s.RequestID != "" {
		return submittedText(s.RequestID)
	}
	if lacksInformation(text) {
		e.log().Debug("member lacks information", zap.String("session_id", s.ID), zap.String("phase", string(s.Phase)))
		return lackInfoText(e.Defaults.ContactEmail())
	}
	switch s.Phase {
	case domain.PhaseGatheringIntent:
		return e.gather(ctx, s, text)
	case domain.PhaseAwaitingConfirmation:
		return e.confirm(s, text)
	case domain.PhaseCollectingFields, domain.PhaseValidating, domain.PhaseComplete:
		return e.collect(ctx, s, text)
	default:
		e.log().Warn("unknown phase, restarting intent", zap.String("session_id", s.ID), zap.String("phase", string(s.Phase)))
		s.Phase = domain.PhaseGatheringIntent
		return menuText()
	}
}

func (e Engine) gather(ctx context.Context, s *Session, text string) string {
	c := e.classify(ctx, s, text)
	if !c.FormType.Valid() || c.Confidence <= e.threshold() {
		// A bare menu number answers the menu directly.
		if ft, ok := forms.MenuChoice(text); ok {
			c = domain.Classification{FormType: ft, Confidence: 1}
		} else {
			return menuText()
		}
	}
	s.Suggested = c.FormType
	s.Phase = domain.PhaseAwaitingConfirmation
	e.log().Info("form type suggested",
		zap.String("session_id", s.ID),
		zap.String("form_type", c.FormType.String()),
		zap.Float64("confidence", c.Confidence))
	return confirmText(c.FormType)
}

func (e Engine) classify(ctx context.Context, s *Session, text string) domain.Classification {
	if e.Classifier == nil {
		return domain.Classification{}
	}
	c, err := e.Classifier.Classify(ctx, text)
	if err != nil {
		e.log().Warn("classification failed", zap.String("session_id", s.ID), zap.Error(err))
		return domain.Classification{}
	}
	return c
}

func (e Engine) confirm(s *Session, text string) string {
	switch classifyConfirmation(text) {
	case affirmative:
		return e.commit(s, s.Suggested)
	case negative:
		if ft, ok := forms.DetectType(text); ok {
			return e.commit(s, ft)
		}
		s.Suggested = domain.FormUnknown
		s.Phase = domain.PhaseGatheringIntent
		return explicitTypeText()
	default:
		return reconfirmText(s.Suggested)
	}
}

// commit fixes the form type and asks for the first group.
func (e Engine) commit(s *Session, ft domain.FormType) string {
	s.FormType = ft
	s.Suggested = domain.FormUnknown
	s.Required = forms.Required(ft)
	s.Phase = domain.PhaseCollectingFields
	s.recomputeMissing()
	e.log().Info("form type confirmed", zap.String("session_id", s.ID), zap.String("form_type", ft.String()))
	return e.advance(s)
}

func (e Engine) collect(ctx context.Context, s *Session, text string) string {
	schema, _ := forms.Lookup(s.FormType)
	ex := e.extract(ctx, s, text, schema.Fields)
	changed := s.merge(ex)
	if len(changed) > 0 {
		e.log().Debug("fields extracted", zap.String("session_id", s.ID), zap.Strings("fields", changed))
	}
	e.suggestCode(s)
	s.recomputeMissing()
	return e.advance(s)
}

func (e Engine) extract(ctx context.Context, s *Session, text string, schema []forms.Field) domain.Extraction {
	if e.Extractor == nil {
		return domain.Extraction{}
	}
	ex, err := e.Extractor.Extract(ctx, text, schema)
	if err != nil {
		e.log().Warn("extraction failed", zap.String("session_id", s.ID), zap.Error(err))
		return domain.Extraction{}
	}
	return ex
}

// suggestCode fills event_code when no code alias holds a value yet.
func (e Engine) suggestCode(s *Session) {
	if e.Codes == nil {
		return
	}
	if _, _, ok := forms.FirstPresent(s.Fields, forms.CodeFields); ok {
		return
	}
	club, _ := s.Fields["club_name"].(string)
	event, _ := s.Fields["event_name"].(string)
	sug, ok := e.Codes.Suggest(club, event)
	if !ok {
		return
	}
	s.Fields["event_code"] = sug.Code
	s.Confidence["event_code"] = sug.Confidence
	e.log().Info("event code suggested",
		zap.String("session_id", s.ID),
		zap.String("code", sug.Code),
		zap.String("club", sug.Club),
		zap.Float64("confidence", sug.Confidence))
}

// advance asks for the next group, or validates once nothing is missing.
func (e Engine) advance(s *Session) string {
	if len(s.Missing) > 0 {
		s.Phase = domain.PhaseCollectingFields
		s.Validation = emptyValidation()
		schema, _ := forms.Lookup(s.FormType)
		group := schema.NextGroup(s.Missing)
		s.markAsked(group)
		return fieldsText(s, group, e.Defaults.ClubName())
	}
	s.Validation = e.validate(s)
	if s.Validation.CanSubmit {
		s.Phase = domain.PhaseComplete
	} else {
		s.Phase = domain.PhaseValidating
	}
	e.log().Info("record validated",
		zap.String("session_id", s.ID),
		zap.Bool("can_submit", s.Validation.CanSubmit),
		zap.Int("errors", len(s.Validation.Errors)),
		zap.Int("warnings", len(s.Validation.Warnings)))
	return summaryText(s)
}

func (e Engine) validate(s *Session) domain.ValidationResult {
	if e.Validator == nil {
		return domain.ValidationResult{CanSubmit: true, Errors: []string{}, Warnings: []string{}}
	}
	return e.Validator.Validate(s.Fields, s.FormType)
}

// Submit hands a complete session to the persister and records the request ID.
func (e Engine) Submit(ctx context.Context, s *Session) (string, error) {
	if s.RequestID != "" {
		return s.RequestID, ErrAlreadySubmitted
	}
	if s.Phase != domain.PhaseComplete || len(s.Missing) > 0 || !s.Validation.CanSubmit {
		return "", ErrNotReady
	}
	if e.Persister == nil {
		return "", errors.New("no persister configured")
	}
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	id, err := e.Persister.Persist(ctx, domain.Submission{
		SessionID:  s.ID,
		ActorID:    s.MemberID,
		FormType:   s.FormType,
		Fields:     fields,
		Validation: s.Validation,
	})
	if err != nil {
		return "", fmt.Errorf("persist submission: %w", err)
	}
	s.RequestID = id
	s.appendTurn(domain.SpeakerAssistant, submitAckText(id), e.now())
	e.log().Info("request submitted", zap.String("session_id", s.ID), zap.String("request_id", id))
	return id, nil
}
