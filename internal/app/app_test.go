package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clubtreasurer/internal/config"
	"clubtreasurer/internal/domain"
)

const testCodes = "club_name,event_name,event_code,event_type,vat_status,year_created\n" +
	"Data and AI Club,Annual Gala,E001,Social,Standard,2023\n" +
	"Data and AI Club,Operating Costs,E031,General,Exempt,2023\n"

func openTestApp(t *testing.T, withCodes bool) *App {
	t.Helper()
	ws := t.TempDir()
	if withCodes {
		if err := os.WriteFile(filepath.Join(ws, "event_codes.csv"), []byte(testCodes), 0o644); err != nil {
			t.Fatalf("write codes: %v", err)
		}
	}
	a, err := Open(context.Background(), Options{Workspace: ws, Provider: "offline"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRefundConversationIsStored(t *testing.T) {
	a := openTestApp(t, true)
	ctx := context.Background()
	if a.LLM != "offline" {
		t.Fatalf("expected offline provider, got %s", a.LLM)
	}
	snap := a.Sessions.Create("member-7")
	steps := []string{
		"A member needs a refund for a cancelled ticket",
		"yes",
		"member_name: Sam Lee; member_email: sam@example.org; refund_amount: 20",
		"refund_reason: event cancelled; event_code: E001; original_payment_date: 2024-02-01",
	}
	for _, msg := range steps {
		if _, err := a.Sessions.Message(ctx, snap.SessionID, msg); err != nil {
			t.Fatalf("message %q: %v", msg, err)
		}
	}
	got, err := a.Sessions.Get(snap.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Phase != domain.PhaseComplete {
		t.Fatalf("expected complete, got %s (missing %v, errors %v)", got.Phase, got.MissingFields, got.Validation.Errors)
	}
	id, _, err := a.Sessions.Submit(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(id, "REQ-") {
		t.Fatalf("unexpected request id %s", id)
	}
	req, err := a.Engine.Get(ctx, id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.MemberID != "member-7" || req.Amount != 20 || req.EventCode != "E001" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestMissingDirectoryDegrades(t *testing.T) {
	a := openTestApp(t, false)
	if a.Directory.Loaded() {
		t.Fatalf("directory should be unloaded")
	}
	res := a.Validator.Validate(map[string]any{
		"member_name":           "Sam",
		"member_email":          "sam@example.org",
		"refund_amount":         10.0,
		"refund_reason":         "duplicate",
		"event_code":            "ANY",
		"original_payment_date": "2024-02-01",
	}, domain.RefundRequest)
	if !res.CanSubmit {
		t.Fatalf("expected code check to be skipped, got %v", res.Errors)
	}
}

func TestExplicitConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Org.ClubName = "Chess Society"
	cfg.LLM.Provider = "offline"
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if !strings.Contains(a.Conversation.Greeting(), "Chess Society") {
		t.Fatalf("greeting should name the club: %s", a.Conversation.Greeting())
	}
}
