package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/form"

	"filingkit/pkg/logger"
)

// Populator sets interactive text fields of a template by name.
type Populator struct{}

// fill payload in the JSON layout accepted by pdfcpu's form filler.
type fillText struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

type fillForm struct {
	TextFields []fillText `json:"textfield,omitempty"`
}

type fillGroup struct {
	Forms []fillForm `json:"forms"`
}

// Populate fills every mapped text field that exists and has a value, and
// returns the count actually set. A document without a form yields zero.
// Missing fields are skipped.
func (Populator) Populate(ctx context.Context, doc []byte, values []FieldValue) ([]byte, int, error) {
	conf := pdfConf()
	fields, err := api.FormFields(bytes.NewReader(doc), conf)
	if err != nil {
		logger.Debug(ctx, "template has no readable form", "error", err)
		return doc, 0, nil
	}
	text := make(map[string]form.Field, len(fields))
	for _, f := range fields {
		if f.Typ != form.FTText {
			continue
		}
		text[f.Name] = f
		if f.ID != "" {
			text[f.ID] = f
		}
	}

	var fill []fillText
	for _, v := range values {
		if strings.TrimSpace(v.Value) == "" {
			continue
		}
		f, ok := text[v.Name]
		if !ok {
			logger.Debug(ctx, "form field not found", "field", v.Name)
			continue
		}
		fill = append(fill, fillText{ID: f.ID, Name: f.Name, Value: v.Value})
	}
	if len(fill) == 0 {
		return doc, 0, nil
	}

	payload, err := json.Marshal(fillGroup{Forms: []fillForm{{TextFields: fill}}})
	if err != nil {
		return doc, 0, fmt.Errorf("%w: encode form data: %v", ErrRenderFailure, err)
	}
	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(doc), bytes.NewReader(payload), &out, conf); err != nil {
		return doc, 0, fmt.Errorf("%w: fill form: %v", ErrRenderFailure, err)
	}
	return out.Bytes(), len(fill), nil
}
