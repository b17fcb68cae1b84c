package document

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrParse wraps every failure to read text from a PDF.
var ErrParse = errors.New("pdf parse error")

// descent is the share of the font size drawn below the baseline.
const descent = 0.2

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

// Parser extracts words with their positions from PDF data.
type Parser struct {
	XTolerance float64
	YTolerance float64
	// MaxSize limits the accepted input; zero disables the limit.
	MaxSize int64
	logger  *slog.Logger
}

// NewParser returns a parser with the default tolerances.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{XTolerance: DefaultXTolerance, YTolerance: DefaultYTolerance, MaxSize: DefaultMaxSize, logger: logger}
}

// newReader opens data for text extraction.
var newReader = pdf.NewReader

// Parse reads every page of data. Errors wrap ErrParse, including panics of
// the PDF libraries on malformed input.
func (p *Parser) Parse(data []byte) (pages []*layout.Page, err error) {
	if err := validate(data, p.MaxSize); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrParse, rec)
		}
	}()

	dims, err := pageDims(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	r, err := newReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if n := r.NumPage(); n != len(dims) {
		return nil, fmt.Errorf("%w: page count mismatch (%d vs %d)", ErrParse, n, len(dims))
	}

	pages = make([]*layout.Page, 0, len(dims))
	for i, dim := range dims {
		glyphs, err := pageGlyphs(r, i+1, dim.height)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrParse, i+1, err)
		}
		words := MergeWords(glyphs, p.XTolerance, p.YTolerance)
		pages = append(pages, layout.NewPage(i, dim.width, dim.height, words))
	}
	p.logger.Debug("document.parse.ok", "pages", len(pages), "bytes", len(data))
	return pages, nil
}

type dim struct {
	width, height float64
}

func pageDims(data []byte) ([]dim, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	raw, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("page dimensions: %w", err)
	}

	dims := make([]dim, len(raw))
	for i, d := range raw {
		dims[i] = dim{width: d.Width, height: d.Height}
	}
	return dims, nil
}

// pageGlyphs reads the text of one page. ledongthuc/pdf panics on some
// malformed content streams; those become errors.
func pageGlyphs(r *pdf.Reader, num int, height float64) (glyphs []Glyph, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("content stream: %v", rec)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return nil, fmt.Errorf("missing page object")
	}

	for _, t := range page.Content().Text {
		if t.S == "" {
			continue
		}
		bottom := height - (t.Y - descent*t.FontSize)
		x, x2 := ordered(t.X, t.X+t.W)
		y, y2 := ordered(bottom-t.FontSize, bottom)
		glyphs = append(glyphs, Glyph{Rect: layout.Rect{X: x, Y: y, X2: x2, Y2: y2}, Text: t.S})
	}
	return glyphs, nil
}

func ordered(a, b float64) (float64, float64) {
	if b < a {
		return b, a
	}
	return a, b
}
