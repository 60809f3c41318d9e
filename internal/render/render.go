// Package render turns form data into document bytes: it fills interactive
// fields of a template, stamps text onto a template at fixed coordinates,
// synthesizes a new paginated PDF, or degrades to a plain-text summary.
package render

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MIME types of produced artifacts.
const (
	MimePDF  = "application/pdf"
	MimeText = "text/plain"
)

// ErrRenderFailure is returned when the PDF library cannot draw or write.
var ErrRenderFailure = errors.New("render failure")

func init() {
	// pdfcpu would otherwise create a config directory under $HOME.
	api.DisableConfigDir()
}

func pdfConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// FieldValue is a value destined for a named interactive field.
type FieldValue struct {
	Name  string
	Value string
}

// Draw is a literal string stamped at an absolute position on page 1.
// X and Y are points from the bottom-left corner.
type Draw struct {
	Text  string
	X, Y  float64
	Size  float64
	Color string
	Font  string
}

// Row is one labeled line of a synthesized document.
type Row struct {
	Label string
	Value string
}

// PageCount returns the number of pages in a PDF.
func PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), pdfConf())
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}

// PageSize returns the width and height in points of page 1.
func PageSize(doc []byte) (float64, float64, error) {
	dims, err := api.PageDims(bytes.NewReader(doc), pdfConf())
	if err != nil {
		return 0, 0, fmt.Errorf("page dims: %w", err)
	}
	if len(dims) == 0 {
		return 0, 0, errors.New("page dims: document has no pages")
	}
	return dims[0].Width, dims[0].Height, nil
}
