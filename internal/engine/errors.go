package engine

import (
	"errors"

	"filingkit/internal/fetch"
	"filingkit/internal/intake"
	"filingkit/internal/render"
)

// Error taxonomy. Only ErrIntakeInvalid and ErrSynthesisFailure ever leave
// Generate; the others are recovered inside a pipeline.
var (
	ErrIntakeInvalid       = intake.ErrInvalid
	ErrTemplateUnavailable = fetch.ErrTemplateUnavailable
	ErrRenderFailure       = render.ErrRenderFailure
	ErrSynthesisFailure    = errors.New("synthesis failure")
)
