package render_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"filingkit/internal/render"
)

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func plainSynth() *render.Synthesizer {
	s := render.NewSynthesizer()
	s.Compress = false
	return s
}

func numberedRows(n int) []render.Row {
	rows := make([]render.Row, n)
	for i := range rows {
		rows[i] = render.Row{Label: fmt.Sprintf("Label %03d", i), Value: fmt.Sprintf("value-%03d", i)}
	}
	return rows
}

func TestSynthesizePagination(t *testing.T) {
	s := plainSynth()
	k := s.Layout.RowsPerPage()
	if k < 2 {
		t.Fatalf("unexpected capacity %d", k)
	}
	for _, n := range []int{0, 1, k - 1, k, k + 1, 2*k + 5, 3 * k} {
		t.Run(fmt.Sprintf("rows=%d", n), func(t *testing.T) {
			doc, err := s.Synthesize("Pagination", numberedRows(n), fixedTime)
			if err != nil {
				t.Fatalf("synthesize: %v", err)
			}
			got, err := render.PageCount(doc)
			if err != nil {
				t.Fatalf("page count: %v", err)
			}
			want := (n + k - 1) / k
			if want == 0 {
				want = 1
			}
			if got != want || s.Layout.Pages(n) != want {
				t.Fatalf("pages = %d (layout %d), want %d", got, s.Layout.Pages(n), want)
			}
		})
	}
}

func TestSynthesizePreservesRowOrder(t *testing.T) {
	s := plainSynth()
	n := 2*s.Layout.RowsPerPage() + 3
	doc, err := s.Synthesize("Order", numberedRows(n), fixedTime)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	last := -1
	for i := 0; i < n; i++ {
		idx := bytes.Index(doc, []byte(fmt.Sprintf("(value-%03d)", i)))
		if idx < 0 {
			t.Fatalf("row %d missing", i)
		}
		if idx <= last {
			t.Fatalf("row %d out of order", i)
		}
		last = idx
	}
	if !bytes.Contains(doc, []byte("(Order \\(continued\\))")) {
		t.Fatalf("continuation header missing")
	}
}

func TestSynthesizeSkipsEmptyRows(t *testing.T) {
	rows := []render.Row{
		{Label: "Legal name", Value: "Acme LLC"},
		{Label: "Skipped label", Value: "   "},
		{Label: "State", Value: "CA"},
	}
	doc, err := plainSynth().Synthesize("Articles of Organization", rows, fixedTime)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if bytes.Contains(doc, []byte("Skipped label")) {
		t.Fatalf("empty row was printed")
	}
	for _, want := range []string{"(Acme LLC)", "(Legal name:)", "(State:)", "Generated 2024-01-01T12:00:00Z"} {
		if !bytes.Contains(doc, []byte(want)) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestSynthesizeDeterministicForFixedClock(t *testing.T) {
	s := render.NewSynthesizer()
	a, err := s.Synthesize("SS-4", numberedRows(40), fixedTime)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Synthesize("SS-4", numberedRows(40), fixedTime)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("same input and clock produced different bytes")
	}
	c, err := s.Synthesize("SS-4", numberedRows(40), fixedTime.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("timestamp is not embedded")
	}
}

func TestSynthesizeTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("very long purpose ", 40)
	doc, err := plainSynth().Synthesize("Long", []render.Row{{Label: "Purpose", Value: long}}, fixedTime)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := render.PageCount(doc); n != 1 {
		t.Fatalf("long value should not add pages, got %d", n)
	}
	if !bytes.Contains(doc, []byte("...)")) {
		t.Fatalf("expected ellipsis")
	}
}

func TestSynthesizeHugeValueStaysFast(t *testing.T) {
	huge := strings.Repeat("x", 1<<20)
	rows := []render.Row{
		{Label: "Legal name", Value: huge},
		{Label: "Purpose", Value: strings.Repeat("lorem ipsum ", 90000)},
	}
	start := time.Now()
	doc, err := plainSynth().Synthesize("Articles of Organization", rows, fixedTime)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("synthesize took %v", elapsed)
	}
	if len(doc) > 64<<10 {
		t.Fatalf("document is %d bytes; values were not truncated", len(doc))
	}
	if n, _ := render.PageCount(doc); n != 1 {
		t.Fatalf("pages = %d", n)
	}
}

const formFixture = `{
	"paper": "A4P",
	"origin": "LowerLeft",
	"fonts": {
		"input": {"name": "Helvetica", "size": 10}
	},
	"pages": {
		"1": {
			"content": {
				"textfield": [
					{"id": "LLC Name", "value": "", "pos": [150, 700], "width": 250},
					{"id": "Business Address", "value": "", "pos": [150, 670], "width": 250},
					{"id": "Agent Name", "value": "", "pos": [150, 640], "width": 250}
				]
			}
		}
	}
}`

// formTemplate builds a one-page document with three empty text fields.
func formTemplate(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := api.Create(nil, strings.NewReader(formFixture), &buf, nil); err != nil {
		t.Fatalf("create form: %v", err)
	}
	return buf.Bytes()
}

func TestPopulateSetsMatchingFields(t *testing.T) {
	tpl := formTemplate(t)
	out, n, err := render.Populator{}.Populate(context.Background(), tpl, []render.FieldValue{
		{Name: "LLC Name", Value: "Acme LLC"},
		{Name: "Business Address", Value: "1 Market St"},
		{Name: "Agent Name", Value: "  "},
		{Name: "No Such Field", Value: "ignored"},
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if n != 2 {
		t.Fatalf("fields set = %d, want 2", n)
	}
	fields, err := api.FormFields(bytes.NewReader(out), nil)
	if err != nil {
		t.Fatalf("read fields: %v", err)
	}
	got := map[string]string{}
	for _, f := range fields {
		got[f.Name] = f.V
	}
	want := map[string]string{"LLC Name": "Acme LLC", "Business Address": "1 Market St", "Agent Name": ""}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("field %q = %q, want %q (all: %v)", name, got[name], v, got)
		}
	}
	if _, ok := got["No Such Field"]; ok {
		t.Fatalf("unmatched field was created")
	}
}

func TestPopulateNoMatchingFields(t *testing.T) {
	tpl := formTemplate(t)
	out, n, err := render.Populator{}.Populate(context.Background(), tpl, []render.FieldValue{{Name: "f1_1", Value: "Acme LLC"}})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if n != 0 || !bytes.Equal(out, tpl) {
		t.Fatalf("expected untouched template, got %d fields set", n)
	}
}

// customTemplate builds a one-page document with a non-letter size and no form.
func customTemplate(t *testing.T) []byte {
	t.Helper()
	s := render.NewSynthesizer()
	s.Layout.PageWidth = 500
	s.Layout.PageHeight = 700
	doc, err := s.Synthesize("Template", []render.Row{{Label: "Box", Value: "printed"}}, fixedTime)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	return doc
}

func TestPopulateWithoutFormSetsNothing(t *testing.T) {
	tpl := customTemplate(t)
	out, n, err := render.Populator{}.Populate(context.Background(), tpl, []render.FieldValue{{Name: "f1_1", Value: "Acme LLC"}})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero fields set, got %d", n)
	}
	if !bytes.Equal(out, tpl) {
		t.Fatalf("document changed without fields")
	}
}

func TestOverlayKeepsTemplatePage(t *testing.T) {
	tpl := customTemplate(t)
	out, err := render.Overlayer{}.Overlay(context.Background(), tpl, []render.Draw{
		{Text: "Acme LLC", X: 72, Y: 600, Size: 10},
		{Text: "", X: 72, Y: 580},
		{Text: "123 Main St", X: 72, Y: 560, Size: 9, Color: "#1F1F1F"},
	})
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if bytes.Equal(out, tpl) {
		t.Fatalf("overlay did not change the document")
	}
	w, h, err := render.PageSize(out)
	if err != nil {
		t.Fatalf("page size: %v", err)
	}
	if w != 500 || h != 700 {
		t.Fatalf("page size = %vx%v, want 500x700", w, h)
	}
	if n, _ := render.PageCount(out); n != 1 {
		t.Fatalf("pages = %d", n)
	}
}

func TestOverlayNothingToDraw(t *testing.T) {
	tpl := customTemplate(t)
	out, err := render.Overlayer{}.Overlay(context.Background(), tpl, []render.Draw{{Text: " "}})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, tpl) {
		t.Fatalf("expected unchanged document")
	}
}

func TestOverlayRejectsGarbage(t *testing.T) {
	_, err := render.Overlayer{}.Overlay(context.Background(), []byte("%PDF-1.4 broken"), []render.Draw{{Text: "x", X: 1, Y: 1}})
	if !errors.Is(err, render.ErrRenderFailure) {
		t.Fatalf("expected ErrRenderFailure, got %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	body, err := render.Placeholder("Form SS-4", []render.Row{
		{Label: "Legal name", Value: "Acme LLC"},
		{Label: "Trade name", Value: ""},
		{Label: "State", Value: "CA"},
	}, fixedTime)
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	text := string(body)
	for _, want := range []string{"Form SS-4\n=========", "Legal name: Acme LLC", "State:      CA", "2024-01-01T12:00:00Z"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Trade name") {
		t.Fatalf("empty row printed")
	}
	if _, err := render.Placeholder("Empty", nil, fixedTime); !errors.Is(err, render.ErrEmptyPlaceholder) {
		t.Fatalf("expected ErrEmptyPlaceholder, got %v", err)
	}
}
