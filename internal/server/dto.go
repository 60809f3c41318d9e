package server

import (
	"encoding/json"

	"filingkit/internal/engine"
	"filingkit/internal/events"
	"filingkit/internal/formspec"
	"filingkit/internal/storage"
)

// Request payloads

type PutObjectRequest struct {
	Key         string `json:"key" minLength:"1" maxLength:"512"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data" contentEncoding:"base64"`
}

// Response payloads

// GenerateResponse is the result envelope plus the storage keys written when
// the caller asked for the documents to be kept.
type GenerateResponse struct {
	engine.Result
	StoredKeys []string `json:"stored_keys,omitempty"`
}

type FormResponse struct {
	Variant       string   `json:"variant"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Filename      string   `json:"filename"`
	HasTemplate   bool     `json:"has_template"`
	TemplateURL   string   `json:"template_url,omitempty"`
	EntityTypes   []string `json:"entity_types"`
	Jurisdictions []string `json:"jurisdictions"`
	Fields        int      `json:"fields"`
	Labels        int      `json:"labels"`
}

type FormsResponse struct {
	Items []FormResponse `json:"items"`
}

type ObjectsResponse struct {
	Items []storage.Object `json:"items"`
}

type ObjectResponse struct {
	storage.Object
	Data []byte `json:"data" contentEncoding:"base64"`
}

type EventsResponse struct {
	Items []events.Event `json:"items"`
}

// resultError carries a failed Result as the response body.
type resultError struct {
	status int
	result GenerateResponse
}

func (e *resultError) GetStatus() int               { return e.status }
func (e *resultError) Error() string                { return e.result.Error }
func (e *resultError) MarshalJSON() ([]byte, error) { return json.Marshal(e.result) }

func formResponse(s formspec.Spec) FormResponse {
	return FormResponse{
		Variant:       s.Variant,
		ID:            s.ID,
		Title:         s.Title,
		Filename:      s.Filename,
		HasTemplate:   s.HasTemplate(),
		TemplateURL:   s.TemplateURL,
		EntityTypes:   nonNilSlice(s.EntityTypes),
		Jurisdictions: nonNilSlice(s.Jurisdictions),
		Fields:        len(s.Fields),
		Labels:        len(s.Labels),
	}
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
