package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"clubtreasurer/internal/conversation"
)

type sessionPath struct {
	ID string `path:"id"`
}

func registerSessions(api huma.API, m *conversation.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a conversation",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body *CreateSessionRequest `json:"body" required:"false"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		member := memberFromContext(ctx)
		if member == "" && input.Body != nil {
			member = strings.TrimSpace(input.Body.MemberID)
		}
		snap := m.Create(member)
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Greeting: m.Engine.Greeting(), Session: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get conversation state",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := m.Authorize(input.ID, memberFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		snap, err := m.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/messages",
		Summary:     "Send a member message",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		text := strings.TrimSpace(input.Body.Text)
		if text == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		if err := m.Authorize(input.ID, memberFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		reply, err := m.Message(ctx, input.ID, text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: MessageResponse{Reply: reply.Text, Session: reply.Snapshot}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/reset",
		Summary:     "Discard the conversation and start over",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := m.Authorize(input.ID, memberFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		snap, err := m.Reset(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Greeting: m.Engine.Greeting(), Session: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/submit",
		Summary:     "Submit a complete request for treasurer review",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		if err := m.Authorize(input.ID, memberFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		id, snap, err := m.Submit(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{RequestID: id, Session: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "End a conversation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		err := m.Authorize(input.ID, memberFromContext(ctx))
		if err != nil && !errors.Is(err, conversation.ErrSessionNotFound) {
			return nil, handleError(err)
		}
		m.Delete(input.ID)
		return &struct{}{}, nil
	})
}
