package engine

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode"

	"filingkit/internal/render"
)

// Method records which pipeline stage produced a document.
type Method string

const (
	MethodFilled      Method = "filled"
	MethodOverlaid    Method = "overlaid"
	MethodSynthesized Method = "synthesized"
	MethodPlaceholder Method = "placeholder"
	MethodFailed      Method = "failed"
)

// Document is one generated artifact, ready to be sent to a caller.
type Document struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type" enum:"application/pdf,text/plain"`
	DataURL  string `json:"data_url"`
	Method   Method `json:"method" enum:"filled,overlaid,synthesized,placeholder"`
	Variant  string `json:"variant"`
	Size     int    `json:"size"`
}

// Bytes decodes the document payload.
func (d Document) Bytes() ([]byte, error) {
	data, _, err := DecodeDataURL(d.DataURL)
	return data, err
}

// Result is the envelope returned for one generation request.
type Result struct {
	Success   bool                `json:"success"`
	Error     string              `json:"error,omitempty"`
	Documents map[string]Document `json:"documents"`
}

// DataURL wraps data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the payload and MIME type of a base64 data URL.
func DecodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", errors.New("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("data url has no payload")
	}
	mime, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return nil, "", errors.New("data url is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// MaxNamePrefix caps the sanitized business name in a filename so that
// storage keys and file paths stay within their limits.
const MaxNamePrefix = 100

// Filename prefixes a form filename with the sanitized business name.
// Placeholders carry a .txt extension.
func Filename(businessName, formFile, mime string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(businessName) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	base := b.String()
	if len(base) > MaxNamePrefix {
		// only ASCII was written, so any byte offset is a rune boundary
		base = base[:MaxNamePrefix]
	}
	base = strings.TrimRight(base, "_")
	if mime == render.MimeText {
		formFile = strings.TrimSuffix(formFile, ".pdf") + ".txt"
	}
	if base == "" {
		return formFile
	}
	return base + "_" + formFile
}
