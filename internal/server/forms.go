package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"filingkit/internal/engine"
	"filingkit/internal/formspec"
)

func registerForms(api huma.API, e engine.Engine) {
	catalog := e.Catalog
	if catalog == nil {
		catalog = formspec.MustDefault()
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-forms",
		Method:      http.MethodGet,
		Path:        "/forms",
		Summary:     "List known form variants",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FormsResponse `json:"body"`
	}, error) {
		resp := FormsResponse{Items: []FormResponse{}}
		for _, s := range catalog.List() {
			resp.Items = append(resp.Items, formResponse(s))
		}
		return &struct {
			Body FormsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-form",
		Method:      http.MethodGet,
		Path:        "/forms/{variant}",
		Summary:     "Describe one form variant",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Variant string `path:"variant"`
	}) (*struct {
		Body formspec.Spec `json:"body"`
	}, error) {
		s, ok := catalog.Get(input.Variant)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown form variant", map[string]any{"variant": input.Variant})
		}
		return &struct {
			Body formspec.Spec `json:"body"`
		}{Body: s}, nil
	})
}
