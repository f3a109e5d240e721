// Package engine owns the treasurer side of a request: it stores submitted
// sessions and applies review decisions, recording each change in the event log.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/events"
	"clubtreasurer/internal/forms"
	"clubtreasurer/internal/logging"
	"clubtreasurer/internal/repo"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, logger *zap.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Logger) }

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// NewRequestID formats REQ-YYYYMMDD-HHMMSS-XXXX with a random suffix.
func NewRequestID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("REQ-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// Persist stores a finished submission as a pending request.
func (e Engine) Persist(ctx context.Context, sub domain.Submission) (string, error) {
	if !sub.FormType.Valid() {
		return "", fmt.Errorf("submission has no form type")
	}
	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	req := domain.Request{
		ID:                  NewRequestID(now),
		SessionID:           sub.SessionID,
		MemberID:            sub.ActorID,
		FormType:            sub.FormType,
		Status:              domain.StatusPendingReview,
		Amount:              amountOf(sub.FormType, sub.Fields),
		Fields:              sub.Fields,
		Validation:          sub.Validation,
		PreApprovalRequired: sub.Validation.PreApprovalRequired,
		CreatedAt:           ts,
		UpdatedAt:           ts,
	}
	if _, code, ok := forms.FirstPresent(sub.Fields, forms.CodeFields); ok {
		req.EventCode = fmt.Sprint(code)
	}
	if req.MemberID == "" {
		req.MemberID = "anonymous"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
		return "", fmt.Errorf("insert request: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, events.RequestCreated, events.EntityRequest, req.ID, req.MemberID, events.Payload{
		"form_type":             req.FormType.String(),
		"amount":                req.Amount,
		"event_code":            req.EventCode,
		"session_id":            req.SessionID,
		"pre_approval_required": req.PreApprovalRequired,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	e.log().Info("request created",
		zap.String("request_id", req.ID),
		zap.String("form_type", req.FormType.String()),
		zap.Float64("amount", req.Amount))
	return req.ID, nil
}

func amountOf(ft domain.FormType, fields map[string]any) float64 {
	schema, ok := forms.Lookup(ft)
	if !ok {
		return 0
	}
	_, v, ok := forms.FirstPresent(fields, schema.AmountFields)
	if !ok {
		return 0
	}
	n, _ := forms.Number(v)
	return n
}

// Action is a treasurer decision verb.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionHold    Action = "hold"
	ActionReopen  Action = "reopen"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionHold, ActionReopen:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func (a Action) target() domain.RequestStatus {
	switch a {
	case ActionApprove:
		return domain.StatusApproved
	case ActionReject:
		return domain.StatusRejected
	case ActionHold:
		return domain.StatusOnHold
	default:
		return domain.StatusPendingReview
	}
}

func (a Action) eventType() string {
	switch a {
	case ActionApprove:
		return events.RequestApproved
	case ActionReject:
		return events.RequestRejected
	case ActionHold:
		return events.RequestOnHold
	default:
		return events.RequestReopened
	}
}

type DecideOptions struct {
	ID        string
	Action    Action
	Treasurer string
	Notes     string
}

// Decide applies a treasurer decision to a request.
func (e Engine) Decide(ctx context.Context, opts DecideOptions) (domain.Request, error) {
	if opts.ID == "" {
		return domain.Request{}, errors.New("request id is required")
	}
	if opts.Treasurer == "" {
		return domain.Request{}, errors.New("treasurer is required")
	}
	if _, err := ParseAction(string(opts.Action)); err != nil {
		return domain.Request{}, err
	}
	if opts.Action == ActionReject && strings.TrimSpace(opts.Notes) == "" {
		return domain.Request{}, errors.New("a reason is required to reject a request")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequestTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Request{}, err
	}
	target := opts.Action.target()
	if err := ensureRequestTransition(req.Status, target); err != nil {
		return domain.Request{}, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	var decidedAt *string
	if target == domain.StatusApproved || target == domain.StatusRejected {
		decidedAt = &ts
	}
	if err := e.Repo.UpdateRequestStatusTx(ctx, tx, repo.StatusUpdate{
		ID:        req.ID,
		Status:    target,
		Treasurer: opts.Treasurer,
		Notes:     opts.Notes,
		UpdatedAt: ts,
		DecidedAt: decidedAt,
	}); err != nil {
		return domain.Request{}, err
	}
	if _, err := e.writer().Append(ctx, tx, opts.Action.eventType(), events.EntityRequest, req.ID, opts.Treasurer, events.Payload{
		"from":  string(req.Status),
		"to":    string(target),
		"notes": opts.Notes,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	e.log().Info("request decided",
		zap.String("request_id", req.ID),
		zap.String("from", string(req.Status)),
		zap.String("to", string(target)),
		zap.String("treasurer", opts.Treasurer))
	return e.Repo.GetRequest(ctx, req.ID)
}

func ensureRequestTransition(from, to domain.RequestStatus) error {
	switch from {
	case domain.StatusPendingReview:
		if to == domain.StatusApproved || to == domain.StatusRejected || to == domain.StatusOnHold {
			return nil
		}
	case domain.StatusOnHold:
		if to == domain.StatusApproved || to == domain.StatusRejected || to == domain.StatusPendingReview {
			return nil
		}
	}
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
}

func (e Engine) Get(ctx context.Context, id string) (domain.Request, error) {
	return e.Repo.GetRequest(ctx, id)
}

func (e Engine) List(ctx context.Context, f repo.RequestFilters) ([]domain.Request, error) {
	if f.Status != "" {
		switch domain.RequestStatus(f.Status) {
		case domain.StatusPendingReview, domain.StatusApproved, domain.StatusRejected, domain.StatusOnHold:
		default:
			return nil, fmt.Errorf("unknown status %q", f.Status)
		}
	}
	if f.FormType != "" {
		ft, err := domain.ParseFormType(f.FormType)
		if err != nil {
			return nil, err
		}
		f.FormType = ft.String()
	}
	return e.Repo.ListRequests(ctx, f)
}

// RequestEvents returns the audit trail of one request, oldest first.
func (e Engine) RequestEvents(ctx context.Context, id string) ([]domain.Event, error) {
	if _, err := e.Repo.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.EntityEvents(ctx, events.EntityRequest, id)
}

// Counts returns the number of requests per status, including zeros.
func (e Engine) Counts(ctx context.Context) (map[string]int, error) {
	counts, err := e.Repo.CountRequestsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []domain.RequestStatus{domain.StatusPendingReview, domain.StatusApproved, domain.StatusRejected, domain.StatusOnHold} {
		if _, ok := counts[string(s)]; !ok {
			counts[string(s)] = 0
		}
	}
	return counts, nil
}
