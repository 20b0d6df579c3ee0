// Package export renders completed questionnaires as PDF documents.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// ErrMissingGlyph is returned when the document contains a character the
// configured font cannot draw.
var ErrMissingGlyph = errors.New("export: font has no glyph for character")

// Entry is one question and its answer, in presentation order.
type Entry struct {
	Question string
	Answer   string
}

// Document is everything placed in an export.
type Document struct {
	Title       string
	CompletedAt time.Time
	Entries     []Entry
}

// Renderer produces A4 PDFs with an embedded TrueType font.
//
// Text is written as UTF-8 through the embedded font, never through a core
// font code page. A character the font lacks fails the render instead of
// printing a substitute.
type Renderer struct {
	regular []byte
	bold    []byte
	face    *sfnt.Font
}

// NewRenderer loads the TrueType file at fontFile, used for both weights.
// An empty path selects the bundled Go fonts, which cover Latin, Greek and
// Cyrillic.
func NewRenderer(fontFile string) (*Renderer, error) {
	regular, bold := goregular.TTF, gobold.TTF
	if fontFile != "" {
		data, err := os.ReadFile(fontFile)
		if err != nil {
			return nil, fmt.Errorf("export: reading font: %w", err)
		}
		regular, bold = data, data
	}
	face, err := sfnt.Parse(regular)
	if err != nil {
		return nil, fmt.Errorf("export: parsing font: %w", err)
	}
	return &Renderer{regular: regular, bold: bold, face: face}, nil
}

const (
	fontFamily = "Body"
	pageWidth  = 210.0
	margin     = 20.0
)

// Render writes doc to w.
func (r *Renderer) Render(w io.Writer, doc Document) error {
	if err := r.covers(doc); err != nil {
		return err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("proust-questionnaire", true)

	pdf.AddUTF8FontFromBytes(fontFamily, "", r.regular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", r.bold)
	if pdf.Err() {
		return fmt.Errorf("export: loading font: %w", pdf.Error())
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 18)
	pdf.CellFormat(0, 12, doc.Title, "", 1, "L", false, 0, "")
	if !doc.CompletedAt.IsZero() {
		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(0, 6, "Completed "+doc.CompletedAt.UTC().Format("2 January 2006"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	width := pageWidth - 2*margin
	for i, e := range doc.Entries {
		pdf.SetFont(fontFamily, "B", 11)
		pdf.MultiCell(width, 6, fmt.Sprintf("%d. %s", i+1, e.Question), "", "L", false)
		pdf.SetFont(fontFamily, "", 11)
		pdf.MultiCell(width, 6, e.Answer, "", "L", false)
		pdf.Ln(4)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("export: writing pdf: %w", err)
	}
	return nil
}

// covers checks every printable character of doc against the font's cmap.
func (r *Renderer) covers(doc Document) error {
	var buf sfnt.Buffer
	check := func(s string) error {
		for _, c := range s {
			if unicode.IsSpace(c) || unicode.IsControl(c) {
				continue
			}
			gi, err := r.face.GlyphIndex(&buf, c)
			if err != nil {
				return fmt.Errorf("export: looking up glyph: %w", err)
			}
			if gi == 0 {
				return fmt.Errorf("%w U+%04X", ErrMissingGlyph, c)
			}
		}
		return nil
	}

	if err := check(doc.Title); err != nil {
		return err
	}
	for _, e := range doc.Entries {
		if err := check(e.Question); err != nil {
			return err
		}
		if err := check(e.Answer); err != nil {
			return err
		}
	}
	return nil
}
