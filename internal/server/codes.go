package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"clubtreasurer/internal/codedir"
	"clubtreasurer/internal/domain"
)

func registerCodes(api huma.API, dir *codedir.Directory) {
	huma.Register(api, huma.Operation{
		OperationID: "list-codes",
		Method:      http.MethodGet,
		Path:        "/codes",
		Summary:     "List event finance codes",
	}, func(ctx context.Context, input *struct {
		Club string `query:"club" doc:"Case-insensitive club name filter"`
	}) (*struct {
		Body CodeList `json:"body"`
	}, error) {
		club := strings.TrimSpace(input.Club)
		items := []domain.CodeEntry{}
		for _, entry := range dir.Entries() {
			if club == "" || strings.EqualFold(entry.Club, club) {
				items = append(items, entry)
			}
		}
		return &struct {
			Body CodeList `json:"body"`
		}{Body: CodeList{Items: items, Loaded: dir.Loaded()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-code",
		Method:      http.MethodGet,
		Path:        "/codes/suggest",
		Summary:     "Suggest an event code for a club",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Club  string `query:"club" required:"true"`
		Event string `query:"event"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Club) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "club is required", nil)
		}
		sug, ok := dir.Suggest(input.Club, input.Event)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "no_match", "no code matches this club", map[string]any{"club": input.Club})
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(sug)}, nil
	})
}
