package treasurersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Club Treasurer HTTP API client.
type Client struct {
	BaseURL     string
	MemberID    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Model calls can be slow, so the
// timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

type Validation struct {
	CanSubmit           bool     `json:"can_submit"`
	Errors              []string `json:"errors"`
	Warnings            []string `json:"warnings"`
	PreApprovalRequired bool     `json:"pre_approval_required"`
}

type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	At      string `json:"at"`
}

// Session mirrors the conversation snapshot.
type Session struct {
	SessionID         string             `json:"session_id"`
	MemberID          string             `json:"member_id"`
	Phase             string             `json:"phase"`
	FormType          string             `json:"form_type"`
	SuggestedFormType string             `json:"suggested_form_type"`
	Fields            map[string]any     `json:"fields"`
	MissingFields     []string           `json:"missing_fields"`
	Validation        Validation         `json:"validation"`
	Confidence        float64            `json:"confidence"`
	FieldConfidence   map[string]float64 `json:"field_confidence"`
	Progress          Progress           `json:"progress"`
	RequestID         string             `json:"request_id"`
	Status            string             `json:"status"`
	Turns             int                `json:"turns"`
	History           []Turn             `json:"history"`
}

type Progress struct {
	Collected int `json:"collected"`
	Total     int `json:"total"`
}

type Request struct {
	ID                  string         `json:"id"`
	SessionID           string         `json:"session_id"`
	MemberID            string         `json:"member_id"`
	FormType            string         `json:"form_type"`
	FormName            string         `json:"form_name"`
	Status              string         `json:"status"`
	Amount              float64        `json:"amount"`
	EventCode           string         `json:"event_code"`
	Fields              map[string]any `json:"fields"`
	Validation          Validation     `json:"validation"`
	PreApprovalRequired bool           `json:"pre_approval_required"`
	Treasurer           string         `json:"treasurer"`
	Notes               string         `json:"notes"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
	DecidedAt           string         `json:"decided_at"`
}

type RequestList struct {
	Items  []Request      `json:"items"`
	Counts map[string]int `json:"counts"`
}

// RequestFilter narrows ListRequests. Empty fields are ignored.
type RequestFilter struct {
	Status   string
	FormType string
	MemberID string
	Limit    int
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type CodeEntry struct {
	Code      string `json:"code"`
	Club      string `json:"club"`
	Event     string `json:"event"`
	Category  string `json:"category"`
	TaxStatus string `json:"tax_status"`
	Year      string `json:"year"`
}

type Suggestion struct {
	Code       string  `json:"code"`
	Club       string  `json:"club"`
	Event      string  `json:"event"`
	Confidence float64 `json:"confidence"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSession starts a conversation and returns the greeting with it.
func (c *Client) CreateSession(ctx context.Context) (string, Session, error) {
	var resp struct {
		Greeting string  `json:"greeting"`
		Session  Session `json:"session"`
	}
	body := map[string]any{}
	if c.MemberID != "" {
		body["member_id"] = c.MemberID
	}
	err := c.do(ctx, http.MethodPost, "v1/sessions", body, &resp)
	return resp.Greeting, resp.Session, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodGet, "v1/sessions/"+url.PathEscape(id), nil, &resp)
	return resp.Session, err
}

// SendMessage posts one member message and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, id, text string) (string, Session, error) {
	var resp struct {
		Reply   string  `json:"reply"`
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "v1/sessions/"+url.PathEscape(id)+"/messages", map[string]any{"text": text}, &resp)
	return resp.Reply, resp.Session, err
}

func (c *Client) ResetSession(ctx context.Context, id string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "v1/sessions/"+url.PathEscape(id)+"/reset", nil, &resp)
	return resp.Session, err
}

// SubmitSession hands a complete session to the treasurer and returns the request ID.
func (c *Client) SubmitSession(ctx context.Context, id string) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	err := c.do(ctx, http.MethodPost, "v1/sessions/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp.RequestID, err
}

func (c *Client) ListRequests(ctx context.Context, f RequestFilter) (RequestList, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.FormType != "" {
		q.Set("form_type", f.FormType)
	}
	if f.MemberID != "" {
		q.Set("member_id", f.MemberID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	endpoint := "v1/requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp RequestList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v1/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Decide applies approve, reject, hold or reopen to a request.
func (c *Client) Decide(ctx context.Context, id, action, notes string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v1/requests/%s/%s", url.PathEscape(id), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"notes": notes}, &resp)
	return resp, err
}

func (c *Client) RequestEvents(ctx context.Context, id string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/requests/"+url.PathEscape(id)+"/events", nil, &resp)
	return resp.Items, err
}

func (c *Client) ListCodes(ctx context.Context, club string) ([]CodeEntry, error) {
	endpoint := "v1/codes"
	if club != "" {
		endpoint += "?" + url.Values{"club": {club}}.Encode()
	}
	var resp struct {
		Items []CodeEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) SuggestCode(ctx context.Context, club, event string) (Suggestion, error) {
	q := url.Values{"club": {club}}
	if event != "" {
		q.Set("event", event)
	}
	var resp Suggestion
	err := c.do(ctx, http.MethodGet, "v1/codes/suggest?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.MemberID != "" {
		req.Header.Set("X-Member-Id", c.MemberID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
