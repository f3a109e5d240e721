package engine_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"clubtreasurer/internal/db"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/engine"
	"clubtreasurer/internal/migrate"
	"clubtreasurer/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func supplierSubmission() domain.Submission {
	return domain.Submission{
		SessionID: "sess-1",
		ActorID:   "member-1",
		FormType:  domain.SupplierPayment,
		Fields: map[string]any{
			"supplier_name":  "Acme Catering",
			"invoice_number": "INV-42",
			"total_amount":   "£9,500.00",
			"event_code":     "E031",
		},
		Validation: domain.ValidationResult{CanSubmit: true, Errors: []string{}, Warnings: []string{"pre-approval"}, PreApprovalRequired: true},
	}
}

func TestPersistCreatesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.Persist(env.Ctx, supplierSubmission())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if !regexp.MustCompile(`^REQ-20240305-143000-[0-9A-F]{4}$`).MatchString(id) {
		t.Fatalf("unexpected id format %q", id)
	}
	req, err := env.Engine.Get(env.Ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != domain.StatusPendingReview {
		t.Fatalf("expected pending_review got %s", req.Status)
	}
	if req.Amount != 9500 || req.EventCode != "E031" || !req.PreApprovalRequired {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.FormType != domain.SupplierPayment || req.Fields["supplier_name"] != "Acme Catering" {
		t.Fatalf("fields not stored: %+v", req)
	}
	evts, err := env.Engine.RequestEvents(env.Ctx, id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != "request.created" || evts[0].ActorID != "member-1" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if evts[0].PayloadMap()["form_type"] != "supplier_payment" {
		t.Fatalf("unexpected payload %s", evts[0].Payload)
	}
}

func TestPersistRejectsUnknownForm(t *testing.T) {
	env := newTestEnv(t)
	sub := supplierSubmission()
	sub.FormType = domain.FormUnknown
	if _, err := env.Engine.Persist(env.Ctx, sub); err == nil {
		t.Fatalf("expected error for unknown form type")
	}
}

func TestDecideTransitions(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.Persist(env.Ctx, supplierSubmission())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	req, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionHold, Treasurer: "treasurer-1", Notes: "need receipt"})
	if err != nil || req.Status != domain.StatusOnHold {
		t.Fatalf("hold: %v %+v", err, req)
	}
	if req.DecidedAt != nil {
		t.Fatalf("hold should not set decided_at")
	}
	req, err = env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionReopen, Treasurer: "treasurer-1"})
	if err != nil || req.Status != domain.StatusPendingReview {
		t.Fatalf("reopen: %v %+v", err, req)
	}
	req, err = env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionApprove, Treasurer: "treasurer-1", Notes: "ok"})
	if err != nil || req.Status != domain.StatusApproved {
		t.Fatalf("approve: %v %+v", err, req)
	}
	if req.DecidedAt == nil || req.Treasurer != "treasurer-1" || req.Notes != "ok" {
		t.Fatalf("decision not recorded: %+v", req)
	}
	_, err = env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionReject, Treasurer: "treasurer-1", Notes: "late"})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	evts, err := env.Engine.RequestEvents(env.Ctx, id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []string{"request.created", "request.on_hold", "request.reopened", "request.approved"}
	if len(evts) != len(want) {
		t.Fatalf("expected %d events got %d", len(want), len(evts))
	}
	for i, w := range want {
		if evts[i].Type != w {
			t.Fatalf("event %d: expected %s got %s", i, w, evts[i].Type)
		}
	}
}

func TestDecideValidation(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.Persist(env.Ctx, supplierSubmission())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionReject, Treasurer: "t"}); err == nil {
		t.Fatalf("expected reason to be required")
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionApprove}); err == nil {
		t.Fatalf("expected treasurer to be required")
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: "escalate", Treasurer: "t"}); err == nil {
		t.Fatalf("expected unknown action error")
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: "REQ-missing", Action: engine.ActionApprove, Treasurer: "t"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: id, Action: engine.ActionReopen, Treasurer: "t"}); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("pending request cannot be reopened, got %v", err)
	}
}

func TestListAndCounts(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Persist(env.Ctx, supplierSubmission())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	refund := domain.Submission{
		ActorID:    "member-2",
		FormType:   domain.RefundRequest,
		Fields:     map[string]any{"refund_amount": 12.5},
		Validation: domain.ValidationResult{CanSubmit: true, Errors: []string{}, Warnings: []string{}},
	}
	if _, err := env.Engine.Persist(env.Ctx, refund); err != nil {
		t.Fatalf("persist refund: %v", err)
	}
	if _, err := env.Engine.Decide(env.Ctx, engine.DecideOptions{ID: first, Action: engine.ActionApprove, Treasurer: "t"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	all, err := env.Engine.List(env.Ctx, repo.RequestFilters{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %v (%d)", err, len(all))
	}
	pending, err := env.Engine.List(env.Ctx, repo.RequestFilters{Status: "pending_review"})
	if err != nil || len(pending) != 1 || pending[0].FormType != domain.RefundRequest {
		t.Fatalf("list pending: %v %+v", err, pending)
	}
	byForm, err := env.Engine.List(env.Ctx, repo.RequestFilters{FormType: "refund"})
	if err != nil || len(byForm) != 1 || byForm[0].Amount != 12.5 {
		t.Fatalf("list by form: %v %+v", err, byForm)
	}
	if _, err := env.Engine.List(env.Ctx, repo.RequestFilters{Status: "paid"}); err == nil {
		t.Fatalf("expected unknown status error")
	}
	counts, err := env.Engine.Counts(env.Ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["approved"] != 1 || counts["pending_review"] != 1 || counts["rejected"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
