package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"clubtreasurer/internal/engine"
	"clubtreasurer/internal/repo"
)

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List submitted requests",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending_review,approved,rejected,on_hold"`
		FormType string `query:"form_type"`
		MemberID string `query:"member_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body RequestList `json:"body"`
	}, error) {
		if _, authErr := requireTreasurer(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.List(ctx, repo.RequestFilters{
			Status:   input.Status,
			FormType: input.FormType,
			MemberID: input.MemberID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Counts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestList `json:"body"`
		}{Body: RequestList{Items: mapRequests(items), Counts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get a request",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if _, authErr := requireTreasurer(ctx); authErr != nil {
			return nil, authErr
		}
		req, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/{action}",
		Summary:     "Approve, reject, hold or reopen a request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID     string           `path:"id"`
		Action string           `path:"action" enum:"approve,reject,hold,reopen"`
		Body   *DecisionRequest `json:"body" required:"false"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		principal, authErr := requireTreasurer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := engine.ParseAction(input.Action)
		if err != nil {
			return nil, handleError(err)
		}
		var notes string
		if input.Body != nil {
			notes = input.Body.Notes
		}
		req, err := e.Decide(ctx, engine.DecideOptions{
			ID:        input.ID,
			Action:    action,
			Treasurer: principal.ActorID,
			Notes:     notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-events",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/events",
		Summary:     "Audit trail of a request",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		if _, authErr := requireTreasurer(ctx); authErr != nil {
			return nil, authErr
		}
		evts, err := e.RequestEvents(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: make([]EventResponse, 0, len(evts))}
		for _, evt := range evts {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})
}
