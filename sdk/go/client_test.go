package treasurersdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsMemberHeaderAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Member-Id") != "m-1" {
			t.Errorf("missing member header")
		}
		switch r.URL.Path {
		case "/v1/sessions/s-1/messages":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(map[string]any{
				"reply":   "echo: " + body["text"],
				"session": map[string]any{"session_id": "s-1", "phase": "gathering_intent"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(srv.URL + "/")
	c.MemberID = "m-1"
	reply, sess, err := c.SendMessage(context.Background(), "s-1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "echo: hello" || sess.SessionID != "s-1" || sess.Phase != "gathering_intent" {
		t.Fatalf("unexpected response %q %+v", reply, sess)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"invalid_transition","message":"invalid status transition approved -> on_hold"}}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Decide(context.Background(), "REQ-1", "hold", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
