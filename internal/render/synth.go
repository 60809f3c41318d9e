package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

const disclaimer = "Prepared from submitted intake data for informational purposes. Review before filing."

// Layout fixes the geometry of a synthesized document, in points with the
// origin at the top-left corner.
type Layout struct {
	PageWidth    float64
	PageHeight   float64
	MarginLeft   float64
	MarginTop    float64
	MarginBottom float64
	HeaderHeight float64
	FooterBand   float64
	LineHeight   float64
	LabelColumn  float64
	FontSize     float64
	HeaderSize   float64
	Font         string
}

// DefaultLayout is US Letter with one-inch margins.
func DefaultLayout() Layout {
	return Layout{
		PageWidth:    612,
		PageHeight:   792,
		MarginLeft:   72,
		MarginTop:    72,
		MarginBottom: 72,
		HeaderHeight: 36,
		FooterBand:   36,
		LineHeight:   18,
		LabelColumn:  200,
		FontSize:     10,
		HeaderSize:   16,
		Font:         "Helvetica",
	}
}

func (l Layout) firstRowY() float64 { return l.MarginTop + l.HeaderHeight }

func (l Layout) lastRowY() float64 { return l.PageHeight - l.MarginBottom - l.FooterBand }

// RowsPerPage is the constant row capacity of every page.
func (l Layout) RowsPerPage() int {
	if l.LineHeight <= 0 {
		return 1
	}
	n := int((l.lastRowY()-l.firstRowY())/l.LineHeight) + 1
	if n < 1 {
		return 1
	}
	return n
}

// Pages returns the page count for n rows.
func (l Layout) Pages(n int) int {
	k := l.RowsPerPage()
	if n <= 0 {
		return 1
	}
	return (n + k - 1) / k
}

// Synthesizer builds a new document from labeled rows.
type Synthesizer struct {
	Layout Layout
	// Compress enables stream compression; tests disable it to inspect text.
	Compress bool
	Creator  string
}

// NewSynthesizer returns a synthesizer with the default layout.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{Layout: DefaultLayout(), Compress: true, Creator: "filingkit"}
}

// CompactRows drops rows whose value is empty, preserving order.
func CompactRows(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.Value) == "" {
			continue
		}
		out = append(out, Row{Label: strings.TrimSpace(r.Label), Value: strings.TrimSpace(r.Value)})
	}
	return out
}

// Synthesize lays rows out under a bold title, paging every RowsPerPage
// rows, and closes the last page with a timestamped footer. The document
// dates come from generatedAt, so equal inputs give equal bytes.
func (s *Synthesizer) Synthesize(title string, rows []Row, generatedAt time.Time) ([]byte, error) {
	l := s.Layout
	if l.PageWidth == 0 {
		l = DefaultLayout()
	}
	rows = CompactRows(rows)
	generatedAt = generatedAt.UTC()

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: l.PageWidth, Ht: l.PageHeight},
	})
	pdf.SetCompression(s.Compress)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(l.MarginLeft, l.MarginTop, l.MarginLeft)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetTitle(title, true)
	if s.Creator != "" {
		pdf.SetCreator(s.Creator, true)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	contentWidth := l.PageWidth - 2*l.MarginLeft
	valueX := l.MarginLeft + l.LabelColumn
	valueWidth := contentWidth - l.LabelColumn
	perPage := l.RowsPerPage()
	pages := l.Pages(len(rows))

	for p := 0; p < pages; p++ {
		pdf.AddPage()
		heading := title
		if p > 0 {
			heading = title + " (continued)"
		}
		pdf.SetFont(l.Font, "B", l.HeaderSize)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(l.MarginLeft, l.MarginTop+l.HeaderSize, fit(pdf, tr(heading), contentWidth))
		pdf.SetDrawColor(120, 120, 120)
		pdf.SetLineWidth(0.5)
		ruleY := l.MarginTop + l.HeaderSize + 8
		pdf.Line(l.MarginLeft, ruleY, l.PageWidth-l.MarginLeft, ruleY)

		end := (p + 1) * perPage
		if end > len(rows) {
			end = len(rows)
		}
		for i := p * perPage; i < end; i++ {
			y := l.firstRowY() + float64(i-p*perPage)*l.LineHeight
			pdf.SetFont(l.Font, "B", l.FontSize)
			pdf.Text(l.MarginLeft, y, fit(pdf, tr(rows[i].Label+":"), l.LabelColumn-6))
			pdf.SetFont(l.Font, "", l.FontSize)
			pdf.Text(valueX, y, fit(pdf, tr(rows[i].Value), valueWidth))
		}
	}

	footerY := l.PageHeight - l.MarginBottom - l.FooterBand/2
	pdf.SetFont(l.Font, "I", l.FontSize-2)
	pdf.SetTextColor(90, 90, 90)
	pdf.Text(l.MarginLeft, footerY, tr("Generated "+generatedAt.Format(time.RFC3339)))
	pdf.Text(l.MarginLeft, footerY+l.FontSize, fit(pdf, tr(disclaimer), contentWidth))

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("%w: synthesize: %v", ErrRenderFailure, err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: write pdf: %v", ErrRenderFailure, err)
	}
	return buf.Bytes(), nil
}

// minGlyphWidth is a floor, in points, on the advance of any core-font glyph
// at the sizes used here.
const minGlyphWidth = 1.0

// fit truncates s with an ellipsis so it renders within width at the
// current font. Rows never wrap. s is already in the single-byte code page
// of the core fonts, so cutting bytes is safe.
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if width <= 0 {
		return s
	}
	const ellipsis = "..."
	if limit := int(width/minGlyphWidth) + len(ellipsis); len(s) > limit {
		s = s[:limit]
	} else if pdf.GetStringWidth(s) <= width {
		return s
	}
	// largest prefix that still fits with the ellipsis appended
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if pdf.GetStringWidth(s[:mid]+ellipsis) <= width {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return s[:lo] + ellipsis
}
