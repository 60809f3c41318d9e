package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"filingkit/pkg/logger"
)

const (
	defaultOverlayFont  = "Helvetica"
	defaultOverlaySize  = 10
	defaultOverlayColor = "#000000"
)

// Overlayer stamps literal text on page 1 of a template.
type Overlayer struct{}

func stampDesc(d Draw) string {
	font := d.Font
	if font == "" {
		font = defaultOverlayFont
	}
	size := int(math.Round(d.Size))
	if size <= 0 {
		size = defaultOverlaySize
	}
	color := d.Color
	if color == "" {
		color = defaultOverlayColor
	}
	return fmt.Sprintf("font:%s, points:%d, pos:bl, off:%.2f %.2f, scale:1 abs, rot:0, fillc:%s, op:1",
		font, size, d.X, d.Y, color)
}

// Overlay draws every non-empty instruction at its absolute position. The
// original page boxes and content are kept; only stamps are added.
func (Overlayer) Overlay(ctx context.Context, doc []byte, draws []Draw) ([]byte, error) {
	var stamps []*model.Watermark
	for _, d := range draws {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		wm, err := api.TextWatermark(d.Text, stampDesc(d), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("%w: stamp %q: %v", ErrRenderFailure, d.Text, err)
		}
		stamps = append(stamps, wm)
	}
	if len(stamps) == 0 {
		logger.Debug(ctx, "overlay has nothing to draw")
		return doc, nil
	}
	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(doc), &out, map[int][]*model.Watermark{1: stamps}, pdfConf()); err != nil {
		return nil, fmt.Errorf("%w: write overlay: %v", ErrRenderFailure, err)
	}
	return out.Bytes(), nil
}
