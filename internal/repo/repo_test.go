package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"clubtreasurer/internal/db"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/events"
	"clubtreasurer/internal/migrate"
	"clubtreasurer/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestRequestRoundTrip(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := domain.Request{
		ID:         "REQ-1",
		MemberID:   "m",
		FormType:   domain.InternalTransfer,
		Status:     domain.StatusPendingReview,
		Amount:     40,
		Fields:     map[string]any{"transfer_amount": 40.0},
		Validation: domain.ValidationResult{CanSubmit: true, Errors: []string{}, Warnings: []string{}},
		CreatedAt:  "2024-01-01T00:00:00Z",
		UpdatedAt:  "2024-01-01T00:00:00Z",
	}
	if err := r.InsertRequestTx(ctx, tx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := (events.Writer{}).Append(ctx, tx, events.RequestCreated, events.EntityRequest, req.ID, "m", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetRequest(ctx, "REQ-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.GetRequest(ctx, "REQ-2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	latest, err := r.LatestEventID(ctx)
	if err != nil || latest == 0 {
		t.Fatalf("latest event id: %v %d", err, latest)
	}
	after, err := r.EventsAfter(ctx, 10, latest)
	if err != nil || len(after) != 0 {
		t.Fatalf("events after latest: %v %d", err, len(after))
	}
	recent, err := r.LatestEvents(ctx, repo.EventFilters{EntityID: "REQ-1"})
	if err != nil || len(recent) != 1 || recent[0].EntityID != "REQ-1" {
		t.Fatalf("latest events: %v %+v", err, recent)
	}
}

func TestUpdateMissingRequest(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = r.UpdateRequestStatusTx(ctx, tx, repo.StatusUpdate{ID: "nope", Status: domain.StatusApproved, UpdatedAt: "x"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
