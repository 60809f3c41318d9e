package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"filingkit/internal/storage"
)

// objectKey undoes the escaping clients apply to keys containing slashes.
func objectKey(raw string) string {
	if k, err := url.PathUnescape(raw); err == nil {
		return k
	}
	return raw
}

func registerObjects(api huma.API, store storage.Store) {
	if store == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/storage/objects",
		Summary:     "List stored objects",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Prefix string `query:"prefix"`
	}) (*struct {
		Body ObjectsResponse `json:"body"`
	}, error) {
		items, err := store.List(ctx, input.Prefix)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectsResponse `json:"body"`
		}{Body: ObjectsResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-object",
		Method:      http.MethodPost,
		Path:        "/storage/objects",
		Summary:     "Store an object",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PutObjectRequest `json:"body"`
	}) (*struct {
		Body storage.Object `json:"body"`
	}, error) {
		obj, err := store.Put(ctx, storage.Object{Key: input.Body.Key, ContentType: input.Body.ContentType}, input.Body.Data)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body storage.Object `json:"body"`
		}{Body: obj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object",
		Method:      http.MethodGet,
		Path:        "/storage/objects/{key}",
		Summary:     "Fetch a stored object",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body ObjectResponse `json:"body"`
	}, error) {
		obj, data, err := store.Get(ctx, objectKey(input.Key))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectResponse `json:"body"`
		}{Body: ObjectResponse{Object: obj, Data: data}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-object",
		Method:      http.MethodDelete,
		Path:        "/storage/objects/{key}",
		Summary:     "Delete a stored object",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct{}, error) {
		if err := store.Delete(ctx, objectKey(input.Key)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
