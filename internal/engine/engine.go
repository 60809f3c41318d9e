package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"filingkit/internal/fetch"
	"filingkit/internal/formspec"
	"filingkit/internal/intake"
	"filingkit/internal/render"
	"filingkit/pkg/logger"
)

// Populator fills the interactive fields of a template.
type Populator interface {
	Populate(ctx context.Context, doc []byte, values []render.FieldValue) ([]byte, int, error)
}

// Overlayer stamps text onto page 1 of a template.
type Overlayer interface {
	Overlay(ctx context.Context, doc []byte, draws []render.Draw) ([]byte, error)
}

// Synthesizer builds a document from labeled rows.
type Synthesizer interface {
	Synthesize(title string, rows []render.Row, generatedAt time.Time) ([]byte, error)
}

type Engine struct {
	Catalog     *formspec.Catalog
	Source      fetch.Source
	Populator   Populator
	Overlayer   Overlayer
	Synthesizer Synthesizer
	Now         func() time.Time
}

func New(catalog *formspec.Catalog, source fetch.Source) Engine {
	if source == nil {
		source = fetch.Disabled{}
	}
	return Engine{
		Catalog:     catalog,
		Source:      source,
		Populator:   render.Populator{},
		Overlayer:   render.Overlayer{},
		Synthesizer: render.NewSynthesizer(),
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// outcome is what one pipeline produced. body is empty only for MethodFailed.
type outcome struct {
	method Method
	mime   string
	body   []byte
	err    error
}

// Generate validates the intake, selects the forms it needs and runs one
// pipeline per form concurrently. The returned error is nil unless the intake
// is invalid or a pipeline could not produce anything; in both cases the
// Result still describes the failure.
func (e Engine) Generate(ctx context.Context, raw intake.Intake) (Result, error) {
	in := raw.Normalize()
	if err := in.Validate(); err != nil {
		logger.Warn(ctx, "intake rejected", "error", err)
		return Result{Success: false, Error: err.Error(), Documents: map[string]Document{}}, err
	}
	catalog := e.Catalog
	if catalog == nil {
		catalog = formspec.MustDefault()
	}
	specs := catalog.Select(in)
	now := e.now().UTC()

	// A failed form must not cancel its sibling, so the group carries no
	// shared context; Wait reports the first failure.
	outcomes := make([]outcome, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			outcomes[i] = e.run(logger.WithForm(ctx, spec.Variant), spec, in, now)
			if outcomes[i].method == MethodFailed {
				return fmt.Errorf("%s: %w", spec.Variant, outcomes[i].err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	res := Result{Success: true, Documents: make(map[string]Document, len(specs))}
	var failed []string
	for i, spec := range specs {
		o := outcomes[i]
		if o.method == MethodFailed {
			logger.Error(ctx, "document generation failed", "form", spec.Variant, "error", o.err)
			failed = append(failed, spec.ID)
			continue
		}
		res.Documents[spec.ID] = Document{
			Filename: Filename(in.Get(intake.BusinessName), spec.Filename, o.mime),
			MimeType: o.mime,
			DataURL:  DataURL(o.mime, o.body),
			Method:   o.method,
			Variant:  spec.Variant,
			Size:     len(o.body),
		}
		logger.Info(ctx, "document generated", "form", spec.Variant, "method", o.method, "bytes", len(o.body))
	}
	if len(failed) > 0 {
		res.Success = false
		res.Error = "document generation failed: " + strings.Join(failed, ", ")
		if errors.Is(waitErr, ErrSynthesisFailure) {
			return res, waitErr
		}
		return res, fmt.Errorf("%w: %v", ErrSynthesisFailure, waitErr)
	}
	return res, nil
}

// run takes one form through fetch, fill, overlay, synthesis and placeholder,
// stopping at the first stage that yields a document.
func (e Engine) run(ctx context.Context, spec formspec.Spec, in intake.Intake, now time.Time) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{method: MethodFailed, err: fmt.Errorf("%w: panic: %v", ErrSynthesisFailure, r)}
		}
	}()
	rows := labelRows(spec, in)
	if !spec.HasTemplate() {
		return e.synthesize(ctx, spec, rows, now)
	}
	tpl, err := e.Source.Fetch(ctx, spec.TemplateURL)
	if err != nil {
		logger.Info(ctx, "template unavailable, synthesizing", "error", err)
		return e.synthesize(ctx, spec, rows, now)
	}

	filled, n, err := e.Populator.Populate(ctx, tpl.Bytes, fieldValues(spec, in))
	if err != nil {
		logger.Warn(ctx, "populate failed", "error", err)
		n = 0
	}
	if n > 0 {
		return outcome{method: MethodFilled, mime: render.MimePDF, body: filled}
	}

	overlaid, err := e.Overlayer.Overlay(ctx, tpl.Bytes, draws(spec, in))
	if err != nil {
		logger.Warn(ctx, "overlay failed", "error", err)
		return placeholder(spec, rows, now, err)
	}
	return outcome{method: MethodOverlaid, mime: render.MimePDF, body: overlaid}
}

func (e Engine) synthesize(ctx context.Context, spec formspec.Spec, rows []render.Row, now time.Time) outcome {
	doc, err := e.Synthesizer.Synthesize(spec.Title, rows, now)
	if err != nil {
		logger.Warn(ctx, "synthesis failed", "error", err)
		return placeholder(spec, rows, now, err)
	}
	return outcome{method: MethodSynthesized, mime: render.MimePDF, body: doc}
}

func placeholder(spec formspec.Spec, rows []render.Row, now time.Time, cause error) outcome {
	body, err := render.Placeholder(spec.Title, rows, now)
	if err != nil {
		return outcome{method: MethodFailed, err: fmt.Errorf("%w: %v (after %v)", ErrSynthesisFailure, err, cause)}
	}
	return outcome{method: MethodPlaceholder, mime: render.MimeText, body: body}
}

func labelRows(spec formspec.Spec, in intake.Intake) []render.Row {
	rows := make([]render.Row, 0, len(spec.Labels))
	for _, l := range spec.Labels {
		rows = append(rows, render.Row{Label: l.Label, Value: in.Get(l.Key)})
	}
	return rows
}

func fieldValues(spec formspec.Spec, in intake.Intake) []render.FieldValue {
	values := make([]render.FieldValue, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		if v := in.Get(f.Key); v != "" {
			values = append(values, render.FieldValue{Name: f.Name, Value: v})
		}
	}
	return values
}

func draws(spec formspec.Spec, in intake.Intake) []render.Draw {
	out := make([]render.Draw, 0, len(spec.Overlay))
	for _, o := range spec.Overlay {
		out = append(out, render.Draw{Text: in.Get(o.Key), X: o.X, Y: o.Y, Size: o.Size, Color: o.Color})
	}
	return out
}
