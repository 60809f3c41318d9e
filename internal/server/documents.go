package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"filingkit/internal/engine"
	"filingkit/internal/events"
	"filingkit/internal/intake"
	"filingkit/internal/storage"
	"filingkit/pkg/logger"
)

func registerGenerate(api huma.API, e engine.Engine, w *events.Writer, store storage.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-documents",
		Method:      http.MethodPost,
		Path:        "/documents/generate",
		Summary:     "Generate formation documents from intake data",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Store bool           `query:"store" doc:"Also keep the documents in object storage"`
		Body  map[string]any `json:"body"`
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		res, genErr := e.Generate(ctx, intake.FromMap(input.Body))
		resp := GenerateResponse{Result: res}
		if genErr == nil && input.Store && store != nil {
			keys, err := storeDocuments(ctx, store, res)
			if err != nil {
				resp.Success = false
				resp.Error = "store documents: " + err.Error()
				recordGeneration(ctx, w, resp, genErr)
				return nil, handleError(err)
			}
			resp.StoredKeys = keys
		}
		recordGeneration(ctx, w, resp, genErr)
		switch {
		case errors.Is(genErr, engine.ErrIntakeInvalid):
			return nil, &resultError{status: http.StatusBadRequest, result: resp}
		case genErr != nil:
			return nil, &resultError{status: http.StatusInternalServerError, result: resp}
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// storeDocuments writes every document under documents/<request id>/.
func storeDocuments(ctx context.Context, store storage.Store, res engine.Result) ([]string, error) {
	prefix := logger.RequestID(ctx)
	if prefix == "" {
		prefix = "unassigned"
	}
	ids := make([]string, 0, len(res.Documents))
	for id := range res.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		doc := res.Documents[id]
		data, err := doc.Bytes()
		if err != nil {
			return nil, err
		}
		obj, err := store.Put(ctx, storage.Object{Key: path.Join("documents", prefix, doc.Filename), ContentType: doc.MimeType}, data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// recordGeneration appends an audit event. Only metadata is kept.
func recordGeneration(ctx context.Context, w *events.Writer, resp GenerateResponse, genErr error) {
	if w == nil {
		return
	}
	evtType := events.TypeGenerated
	if errors.Is(genErr, engine.ErrIntakeInvalid) {
		evtType = events.TypeRejected
	}
	forms := map[string]any{}
	for id, doc := range resp.Documents {
		forms[id] = map[string]any{
			"variant": doc.Variant,
			"method":  doc.Method,
			"mime":    doc.MimeType,
			"size":    doc.Size,
		}
	}
	payload := events.EventPayload{"forms": forms}
	if resp.Error != "" {
		payload["error"] = resp.Error
	}
	if len(resp.StoredKeys) > 0 {
		payload["stored_keys"] = resp.StoredKeys
	}
	subject := ""
	if p, ok := principalFromContext(ctx); ok {
		subject = p.Subject
	}
	if _, err := w.Append(ctx, evtType, logger.RequestID(ctx), subject, resp.Success, payload); err != nil {
		logger.Warn(ctx, "record generation event", "error", err)
	}
}
