package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"clubtreasurer/internal/app"
	"clubtreasurer/internal/config"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/engine"
)

const testSecret = "test-secret"

const testCodes = "club_name,event_name,event_code,event_type,vat_status,year_created\n" +
	"Data and AI Club,Annual Gala,E001,Social,Standard,2023\n" +
	"Data and AI Club,Operating Costs,E031,General,Exempt,2023\n"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "event_codes.csv"), []byte(testCodes), 0o644); err != nil {
		t.Fatalf("write codes: %v", err)
	}
	a, err := app.Open(context.Background(), app.Options{Workspace: workspace, Provider: "offline"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{
		Engine:   a.Engine,
		Sessions: a.Sessions,
		Codes:    a.Directory,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, subject string, roles ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, subject, roles, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

// createCompleteSession walks a refund conversation to the complete phase.
func createCompleteSession(t *testing.T, srv *testServer) string {
	t.Helper()
	member := map[string]string{memberHeader: "member-9"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions", nil, member)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	var created SessionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if created.Session.MemberID != "member-9" || created.Greeting == "" {
		t.Fatalf("unexpected session %+v", created)
	}
	id := created.Session.SessionID
	var last MessageResponse
	for _, text := range []string{
		"A member needs a refund for a cancelled ticket",
		"yes",
		"member_name: Sam Lee; member_email: sam@example.org; refund_amount: 20",
		"refund_reason: event cancelled; event_code: E001; original_payment_date: 2024-02-01",
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+id+"/messages", map[string]any{"text": text}, member)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("message %q status %d: %s", text, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
	}
	if last.Session.Phase != domain.PhaseComplete {
		t.Fatalf("expected complete phase, got %s: %s", last.Session.Phase, last.Reply)
	}
	return id
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Status != "ok" || !health.CodesLoaded || health.CodeDirectory != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestSubmitAndReview(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createCompleteSession(t, srv)
	owner := map[string]string{memberHeader: "member-9"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/submit", nil, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted SubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.RequestID == "" || submitted.Session.RequestID != submitted.RequestID {
		t.Fatalf("unexpected submit response %+v", submitted)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/submit", nil, owner)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_submitted" {
		t.Fatalf("second submit status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests", nil, bearer(t, "member-9", "member"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for member token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	treasurer := bearer(t, "arijit", RoleTreasurer)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests?status=pending_review", nil, treasurer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list RequestList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != submitted.RequestID || list.Items[0].FormType != "refund_request" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Counts["pending_review"] != 1 {
		t.Fatalf("unexpected counts %v", list.Counts)
	}

	reqURL := srv.URL + "/v1/requests/" + submitted.RequestID
	res, data = doJSON(t, client, http.MethodPost, reqURL+"/approve", map[string]any{"notes": "all in order"}, treasurer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved RequestResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if approved.Status != "approved" || approved.Treasurer != "arijit" || approved.DecidedAt == "" {
		t.Fatalf("unexpected approved request %+v", approved)
	}
	res, data = doJSON(t, client, http.MethodPost, reqURL+"/hold", nil, treasurer)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("hold after approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, reqURL+"/events", nil, treasurer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts EventList
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) != 2 || evts.Items[0].Type != "request.created" || evts.Items[1].Type != "request.approved" {
		t.Fatalf("unexpected events %+v", evts.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/REQ-missing", nil, treasurer)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing request status %d: %s", res.StatusCode, string(data))
	}
}

func TestSessionErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/unknown", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "session_not_found" {
		t.Fatalf("unknown session status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{"member_id": "m-1"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created SessionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Session.MemberID != "m-1" {
		t.Fatalf("member id from body not used: %+v", created.Session)
	}
	id := created.Session.SessionID
	owner := map[string]string{memberHeader: "m-1"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/submit", nil, owner)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "not_ready" {
		t.Fatalf("early submit status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/messages", map[string]any{"text": "   "}, owner)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil, owner)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+id, nil, owner)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session still present: %d", res.StatusCode)
	}
}

func TestSessionOwnership(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createCompleteSession(t, srv)
	base := srv.URL + "/v1/sessions/" + id

	for name, headers := range map[string]map[string]string{
		"other member": {memberHeader: "member-10"},
		"anonymous":    nil,
	} {
		res, data := doJSON(t, client, http.MethodGet, base, nil, headers)
		if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "session_forbidden" {
			t.Fatalf("%s get status %d: %s", name, res.StatusCode, string(data))
		}
		res, data = doJSON(t, client, http.MethodPost, base+"/messages", map[string]any{"text": "refund_amount: 500"}, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("%s message status %d: %s", name, res.StatusCode, string(data))
		}
		res, data = doJSON(t, client, http.MethodPost, base+"/submit", nil, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("%s submit status %d: %s", name, res.StatusCode, string(data))
		}
		res, data = doJSON(t, client, http.MethodDelete, base, nil, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("%s delete status %d: %s", name, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, base, nil, map[string]string{memberHeader: "member-9"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner get status %d: %s", res.StatusCode, string(data))
	}
	var got SessionResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Session.RequestID != "" || got.Session.Fields["refund_amount"] != 20.0 {
		t.Fatalf("session changed by another caller: %+v", got.Session)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("anonymous create status %d: %s", res.StatusCode, string(data))
	}
	var open SessionResponse
	if err := json.Unmarshal(data, &open); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/sessions/"+open.Session.SessionID, nil, map[string]string{memberHeader: "anyone"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("anonymous session get status %d: %s", res.StatusCode, string(data))
	}
}

func TestResetKeepsSessionID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	id := createCompleteSession(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+id+"/reset", nil, map[string]string{memberHeader: "member-9"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reset status %d: %s", res.StatusCode, string(data))
	}
	var reset SessionResponse
	if err := json.Unmarshal(data, &reset); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reset.Session.SessionID != id || reset.Session.Phase != domain.PhaseGatheringIntent || reset.Session.Turns != 0 {
		t.Fatalf("unexpected reset session %+v", reset.Session)
	}
	if reset.Session.Fields["club_name"] != "Data and AI Club" {
		t.Fatalf("defaults not re-applied: %v", reset.Session.Fields)
	}
}

func TestCodes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/codes?club=data+and+ai+club", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("codes status %d: %s", res.StatusCode, string(data))
	}
	var codes CodeList
	if err := json.Unmarshal(data, &codes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !codes.Loaded || len(codes.Items) != 2 {
		t.Fatalf("unexpected codes %+v", codes)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/codes/suggest?club=Data+and+AI+Club&event=Annual+Gala", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("suggest status %d: %s", res.StatusCode, string(data))
	}
	var sug SuggestionResponse
	if err := json.Unmarshal(data, &sug); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sug.Code != "E001" || sug.Confidence != 0.95 {
		t.Fatalf("unexpected suggestion %+v", sug)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/codes/suggest?club=Zebra+Knitting+Circle", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown club, got %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Get("X-Treasurer-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.App.Engine.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"request.approved"}, Secret: "s3cret"},
	}, nil)
	// First pass pins the cursor at the current end of the log.
	d.DispatchOnce(ctx)

	id, err := srv.App.Engine.Persist(ctx, domain.Submission{
		ActorID:    "m",
		FormType:   domain.RefundRequest,
		Fields:     map[string]any{"refund_amount": 5.0},
		Validation: domain.ValidationResult{CanSubmit: true, Errors: []string{}, Warnings: []string{}},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := srv.App.Engine.Decide(ctx, engine.DecideOptions{ID: id, Action: engine.ActionApprove, Treasurer: "arijit"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	if received[0].Type != "request.approved" || received[0].EntityID != id || headers[0] != "s3cret" {
		t.Fatalf("unexpected delivery %+v (%v)", received[0], headers)
	}
}

func TestWebhookRunStopsOnCancel(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	d := NewWebhookDispatcher(srv.App.Engine.Repo, []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}}, nil)
	d.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}
