package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"filingkit/internal/engine"
	"filingkit/internal/fetch"
	"filingkit/internal/formspec"
	"filingkit/internal/intake"
	"filingkit/internal/render"
	"filingkit/internal/storage"
)

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	doc   []byte
	calls []string
}

func (f *fakeSource) Fetch(_ context.Context, url string) (fetch.Template, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.doc == nil {
		return fetch.Template{}, fetch.ErrTemplateUnavailable
	}
	return fetch.Template{URL: url, Bytes: f.doc}, nil
}

type fakePopulator struct {
	n   int
	err error
}

func (f fakePopulator) Populate(_ context.Context, doc []byte, values []render.FieldValue) ([]byte, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.n == 0 {
		return doc, 0, nil
	}
	return append([]byte("filled:"), doc...), f.n, nil
}

type fakeOverlayer struct{ err error }

func (f fakeOverlayer) Overlay(_ context.Context, doc []byte, draws []render.Draw) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("overlaid:"), doc...), nil
}

type fakeSynth struct {
	err   error
	panic bool
}

func (f fakeSynth) Synthesize(title string, rows []render.Row, at time.Time) ([]byte, error) {
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("synth:" + title), nil
}

func acme() intake.Intake {
	return intake.Intake{
		"business_name":          "Acme LLC",
		"entity_type":            "LLC",
		"state":                  "ca",
		"street_address":         "1 Market St",
		"responsible_party_name": "Jane Roe",
	}
}

func newEngine(src fetch.Source) engine.Engine {
	eng := engine.New(formspec.MustDefault(), src)
	synth := render.NewSynthesizer()
	synth.Compress = false
	eng.Synthesizer = synth
	eng.Now = func() time.Time { return fixedTime }
	return eng
}

func TestGenerateSynthesizesWhenTemplatesUnavailable(t *testing.T) {
	eng := newEngine(&fakeSource{})
	res, err := eng.Generate(context.Background(), acme())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Success || res.Error != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(res.Documents))
	}
	art, ok := res.Documents[formspec.Articles]
	if !ok {
		t.Fatalf("articles missing")
	}
	if art.Filename != "Acme_LLC_Articles_of_Organization.pdf" {
		t.Fatalf("filename = %q", art.Filename)
	}
	if art.MimeType != render.MimePDF || art.Method != engine.MethodSynthesized || art.Variant != "articles-ca-llc" {
		t.Fatalf("unexpected articles document: %+v", art)
	}
	if !strings.HasPrefix(art.DataURL, "data:application/pdf;base64,") {
		t.Fatalf("data url prefix: %.40s", art.DataURL)
	}
	doc, err := art.Bytes()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc) != art.Size {
		t.Fatalf("size = %d, payload = %d", art.Size, len(doc))
	}
	if !bytes.Contains(doc, []byte("(Acme LLC)")) {
		t.Fatalf("business name not rendered")
	}
	if n, err := render.PageCount(doc); err != nil || n < 1 {
		t.Fatalf("page count = %d, %v", n, err)
	}
	ss4 := res.Documents[formspec.SS4]
	if ss4.Filename != "Acme_LLC_SS4_EIN_Application.pdf" || ss4.Method != engine.MethodSynthesized {
		t.Fatalf("unexpected ss4 document: %+v", ss4)
	}
}

func TestGenerateRejectsInvalidIntake(t *testing.T) {
	src := &fakeSource{}
	eng := newEngine(src)
	res, err := eng.Generate(context.Background(), intake.Intake{"entity_type": "LLC", "state": "CA"})
	if !errors.Is(err, engine.ErrIntakeInvalid) {
		t.Fatalf("expected ErrIntakeInvalid, got %v", err)
	}
	if res.Success || len(res.Documents) != 0 || !strings.Contains(res.Error, "business_name") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(src.calls) != 0 {
		t.Fatalf("no template should be fetched for invalid intake")
	}
}

func TestGenerateUnknownJurisdictionStillProducesArticles(t *testing.T) {
	eng := newEngine(&fakeSource{})
	res, err := eng.Generate(context.Background(), intake.Intake{
		"business_name": "Zeta Holdings, Inc.",
		"entity_type":   "Corporation",
		"state":         "ZZ",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	art, ok := res.Documents[formspec.Articles]
	if !ok {
		t.Fatalf("articles missing: %+v", res)
	}
	if art.Variant != formspec.GenericArticles {
		t.Fatalf("variant = %q", art.Variant)
	}
	if art.Filename != "Zeta_Holdings_Inc_Articles_of_Incorporation.pdf" {
		t.Fatalf("filename = %q", art.Filename)
	}
}

func TestGenerateIsDeterministicForFixedClock(t *testing.T) {
	eng := newEngine(&fakeSource{})
	a, err := eng.Generate(context.Background(), acme())
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Generate(context.Background(), acme())
	if err != nil {
		t.Fatal(err)
	}
	for id, doc := range a.Documents {
		if b.Documents[id].DataURL != doc.DataURL {
			t.Fatalf("%s differs between runs", id)
		}
	}
}

func TestGenerateMethodSelection(t *testing.T) {
	renderErr := errors.New("render: broken")
	cases := []struct {
		name   string
		src    *fakeSource
		pop    fakePopulator
		over   fakeOverlayer
		synth  fakeSynth
		method engine.Method
		prefix string
	}{
		{name: "filled", src: &fakeSource{doc: []byte("%PDF-tpl")}, pop: fakePopulator{n: 3}, method: engine.MethodFilled, prefix: "filled:"},
		{name: "no fields set", src: &fakeSource{doc: []byte("%PDF-tpl")}, method: engine.MethodOverlaid, prefix: "overlaid:"},
		{name: "populate error", src: &fakeSource{doc: []byte("%PDF-tpl")}, pop: fakePopulator{err: renderErr}, method: engine.MethodOverlaid, prefix: "overlaid:"},
		{name: "overlay error", src: &fakeSource{doc: []byte("%PDF-tpl")}, over: fakeOverlayer{err: renderErr}, method: engine.MethodPlaceholder, prefix: "California Articles"},
		{name: "unavailable", src: &fakeSource{}, method: engine.MethodSynthesized, prefix: "synth:"},
		{name: "synthesis error", src: &fakeSource{}, synth: fakeSynth{err: renderErr}, method: engine.MethodPlaceholder, prefix: "California Articles"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newEngine(tc.src)
			eng.Populator = tc.pop
			eng.Overlayer = tc.over
			eng.Synthesizer = tc.synth
			res, err := eng.Generate(context.Background(), acme())
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			doc := res.Documents[formspec.Articles]
			if doc.Method != tc.method {
				t.Fatalf("method = %q, want %q", doc.Method, tc.method)
			}
			body, err := doc.Bytes()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.HasPrefix(string(body), tc.prefix) {
				t.Fatalf("body %q does not start with %q", body, tc.prefix)
			}
			if tc.method == engine.MethodPlaceholder {
				if doc.MimeType != render.MimeText || doc.Filename != "Acme_LLC_Articles_of_Organization.txt" {
					t.Fatalf("unexpected placeholder document: %+v", doc)
				}
			} else if doc.MimeType != render.MimePDF {
				t.Fatalf("mime = %q", doc.MimeType)
			}
		})
	}
}

func TestGenerateGenericVariantSkipsFetch(t *testing.T) {
	src := &fakeSource{doc: []byte("%PDF-tpl")}
	eng := newEngine(src)
	eng.Synthesizer = fakeSynth{}
	eng.Populator = fakePopulator{n: 1}
	res, err := eng.Generate(context.Background(), intake.Intake{"business_name": "Nimbus", "entity_type": "Partnership"})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Documents[formspec.Articles].Method; got != engine.MethodSynthesized {
		t.Fatalf("generic articles method = %q", got)
	}
	if got := res.Documents[formspec.SS4].Method; got != engine.MethodFilled {
		t.Fatalf("ss4 method = %q", got)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected a single fetch, got %v", src.calls)
	}
}

func TestGenerateRecoversPanics(t *testing.T) {
	eng := newEngine(&fakeSource{})
	eng.Synthesizer = fakeSynth{panic: true}
	res, err := eng.Generate(context.Background(), acme())
	if !errors.Is(err, engine.ErrSynthesisFailure) {
		t.Fatalf("expected ErrSynthesisFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "ss4: ") && !strings.Contains(err.Error(), "articles-ca-llc: ") {
		t.Fatalf("error does not name the failed form: %v", err)
	}
	if res.Success || len(res.Documents) != 0 || res.Error == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		name, form, mime, want string
	}{
		{"Acme LLC", "Articles_of_Organization.pdf", render.MimePDF, "Acme_LLC_Articles_of_Organization.pdf"},
		{"  O'Brien & Sons, Inc.  ", "SS4_EIN_Application.pdf", render.MimePDF, "O_Brien_Sons_Inc_SS4_EIN_Application.pdf"},
		{"Café Co", "SS4_EIN_Application.pdf", render.MimeText, "Caf_Co_SS4_EIN_Application.txt"},
		{"***", "Articles_of_Organization.pdf", render.MimePDF, "Articles_of_Organization.pdf"},
		{strings.Repeat("A", 99) + " LLC", "SS4_EIN_Application.pdf", render.MimePDF, strings.Repeat("A", 99) + "_SS4_EIN_Application.pdf"},
	}
	for _, tc := range cases {
		if got := engine.Filename(tc.name, tc.form, tc.mime); got != tc.want {
			t.Fatalf("Filename(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := engine.DecodeDataURL(engine.DataURL("text/plain", []byte("hello")))
	if err != nil || mime != "text/plain" || string(data) != "hello" {
		t.Fatalf("round trip: %q %q %v", data, mime, err)
	}
	for _, bad := range []string{"hello", "data:text/plain,hello", "data:text/plain;base64"} {
		if _, _, err := engine.DecodeDataURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFilenameCapsLongNames(t *testing.T) {
	name := strings.Repeat("Acme ", 120) + "LLC"
	got := engine.Filename(name, "Articles_of_Organization.pdf", render.MimePDF)
	if !strings.HasPrefix(got, "Acme_Acme_") || !strings.HasSuffix(got, "_Articles_of_Organization.pdf") {
		t.Fatalf("filename = %q", got)
	}
	if len(got) > engine.MaxNamePrefix+len("_Articles_of_Organization.pdf") {
		t.Fatalf("filename is %d bytes", len(got))
	}
	key := "documents/" + strings.Repeat("r", 128) + "/" + got
	if err := storage.ValidateKey(key); err != nil {
		t.Fatalf("storage key rejected: %v", err)
	}
}

// urlSource serves a fixed document per template URL.
type urlSource map[string][]byte

func (u urlSource) Fetch(_ context.Context, url string) (fetch.Template, error) {
	doc, ok := u[url]
	if !ok {
		return fetch.Template{}, fetch.ErrTemplateUnavailable
	}
	return fetch.Template{URL: url, Bytes: doc}, nil
}

const llcFormFixture = `{
	"paper": "A4P",
	"origin": "LowerLeft",
	"fonts": {"input": {"name": "Helvetica", "size": 10}},
	"pages": {
		"1": {
			"content": {
				"textfield": [
					{"id": "LLC Name", "value": "", "pos": [150, 700], "width": 250},
					{"id": "Business Address", "value": "", "pos": [150, 670], "width": 250}
				]
			}
		}
	}
}`

func TestGenerateWithRealRenderers(t *testing.T) {
	var form bytes.Buffer
	if err := api.Create(nil, strings.NewReader(llcFormFixture), &form, nil); err != nil {
		t.Fatalf("create form: %v", err)
	}
	plain := render.NewSynthesizer()
	plain.Layout.PageWidth = 500
	plain.Layout.PageHeight = 700
	flat, err := plain.Synthesize("Scanned form", []render.Row{{Label: "Box", Value: "printed"}}, fixedTime)
	if err != nil {
		t.Fatalf("flat template: %v", err)
	}
	catalog := formspec.MustDefault()
	ss4, _ := catalog.Get(formspec.SS4)
	llc, _ := catalog.Get("articles-ca-llc")
	eng := newEngine(urlSource{ss4.TemplateURL: flat, llc.TemplateURL: form.Bytes()})

	res, err := eng.Generate(context.Background(), acme())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	art := res.Documents[formspec.Articles]
	if art.Method != engine.MethodFilled {
		t.Fatalf("articles method = %q", art.Method)
	}
	body, err := art.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	fields, err := api.FormFields(bytes.NewReader(body), nil)
	if err != nil {
		t.Fatalf("read fields: %v", err)
	}
	values := map[string]string{}
	for _, f := range fields {
		values[f.Name] = f.V
	}
	if values["LLC Name"] != "Acme LLC" || values["Business Address"] != "1 Market St" {
		t.Fatalf("filled values = %v", values)
	}

	doc := res.Documents[formspec.SS4]
	if doc.Method != engine.MethodOverlaid {
		t.Fatalf("ss4 method = %q", doc.Method)
	}
	body, err = doc.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	w, h, err := render.PageSize(body)
	if err != nil {
		t.Fatalf("page size: %v", err)
	}
	if w != 500 || h != 700 {
		t.Fatalf("overlay page = %vx%v, want 500x700", w, h)
	}
}

func TestGenerateHugeValuesStaysFast(t *testing.T) {
	in := acme()
	in["business_name"] = strings.Repeat("Acme ", 40000) + "LLC"
	in["business_purpose"] = strings.Repeat("p", 200000)
	start := time.Now()
	res, err := newEngine(&fakeSource{}).Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("generate took %v", elapsed)
	}
	if len(res.Documents[formspec.Articles].Filename) > engine.MaxNamePrefix+len("_Articles_of_Organization.pdf") {
		t.Fatalf("filename not capped")
	}
}
