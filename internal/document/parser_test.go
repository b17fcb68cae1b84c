package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/a3tai/plngx-dissect/internal/layout"
	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a single-page Helvetica PDF with one text line per entry
// of lines, each as (x, baseline y, text) in PDF user space.
func buildPDF(t *testing.T, width, height float64, lines []textLine) []byte {
	t.Helper()

	var content strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&content, "BT /F1 12 Tf %g %g Td (%s) Tj ET\n", l.x, l.y, l.text)
	}

	widths := strings.TrimSpace(strings.Repeat("500 ", 95))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>", width, height),
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

type textLine struct {
	x, y float64
	text string
}

func TestParse(t *testing.T) {
	data := buildPDF(t, 600, 800, []textLine{
		{72, 700, "Invoice 4711"},
		{72, 600, "Total 12.50"},
	})

	pages, err := NewParser(nil).Parse(data)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	page := pages[0]
	assert.Equal(t, 0, page.Number())
	assert.Equal(t, 600.0, page.Width())
	assert.Equal(t, 800.0, page.Height())

	frags := page.Fragments()
	require.Len(t, frags, 4)
	assert.Equal(t, []string{"Invoice", "4711", "Total", "12.50"}, texts(frags))

	// 12pt glyphs, 6pt advance, baseline 700 from the bottom.
	invoice := frags[0]
	assert.InDelta(t, 72, invoice.X, 0.01)
	assert.InDelta(t, 72+7*6, invoice.X2, 0.01)
	assert.InDelta(t, 800-700+0.2*12, invoice.Y2, 0.01)
	assert.InDelta(t, invoice.Y2-12, invoice.Y, 0.01)

	assert.Equal(t, "Total 12.50", page.RegionText(layout.Rect{X: 0, Y: 180, X2: 600, Y2: 210}))
	assert.Equal(t, "Invoice 4711\nTotal 12.50", page.RegionText(page.Bounds()))
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "document is empty"},
		{"not a pdf", []byte("not a pdf"), "missing %PDF- header"},
		{"truncated", []byte("%PDF-1.4\n1 0 obj\n"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(nil).Parse(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestParseTooLarge(t *testing.T) {
	data := buildPDF(t, 600, 400, []textLine{{x: 50, y: 350, text: "Invoice"}})
	p := NewParser(nil)
	p.MaxSize = int64(len(data) - 1)

	_, err := p.Parse(data)
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorContains(t, err, "too large")
}

func TestParseRecoversReaderPanic(t *testing.T) {
	orig := newReader
	t.Cleanup(func() { newReader = orig })
	newReader = func(io.ReaderAt, int64) (*pdf.Reader, error) {
		panic("malformed xref stream")
	}

	data := buildPDF(t, 600, 400, []textLine{{x: 50, y: 350, text: "Invoice"}})
	var (
		pages []*layout.Page
		err   error
	)
	require.NotPanics(t, func() { pages, err = NewParser(nil).Parse(data) })
	assert.Nil(t, pages)
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorContains(t, err, "malformed xref stream")
}
