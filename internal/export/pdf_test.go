package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("")
	require.NoError(t, err)
	return r
}

// streams returns the inflated contents of every Flate stream in pdf.
func streams(pdf []byte) []byte {
	var out []byte
	rest := pdf
	for {
		i := bytes.Index(rest, []byte("stream\n"))
		if i < 0 {
			return out
		}
		rest = rest[i+len("stream\n"):]
		j := bytes.Index(rest, []byte("\nendstream"))
		if j < 0 {
			return out
		}
		if zr, err := zlib.NewReader(bytes.NewReader(rest[:j])); err == nil {
			if b, err := io.ReadAll(zr); err == nil {
				out = append(out, b...)
			}
		}
		rest = rest[j+len("\nendstream"):]
	}
}

// shown is s as it appears in a content stream drawn with an Identity-H
// font: UTF-16BE code units.
func shown(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = append(b, byte(u>>8), byte(u))
	}
	return b
}

func TestRender_ProducesPDF(t *testing.T) {
	doc := Document{
		Title:       "Proust Questionnaire",
		CompletedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Entries: []Entry{
			{Question: "What is your idea of perfect happiness?", Answer: "A long walk and a café crème."},
			{Question: "What is your motto?", Answer: "Festina lente"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, newRenderer(t).Render(&buf, doc))

	out := buf.Bytes()
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "output starts with the PDF header")
	assert.Contains(t, string(out), "%%EOF")
	assert.True(t, bytes.Contains(streams(out), shown("café crème")))
}

func TestRender_CyrillicAndGreekSurvive(t *testing.T) {
	doc := Document{
		Title: "Proust Questionnaire",
		Entries: []Entry{
			{Question: "What is your motto?", Answer: "это осмысленный ответ"},
			{Question: "What is your greatest fear?", Answer: "η λήθη"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, newRenderer(t).Render(&buf, doc))

	text := streams(buf.Bytes())
	assert.True(t, bytes.Contains(text, shown("это осмысленный ответ")))
	assert.True(t, bytes.Contains(text, shown("η λήθη")))
}

func TestRender_MissingGlyphFails(t *testing.T) {
	doc := Document{
		Title:   "Proust Questionnaire",
		Entries: []Entry{{Question: "What is your motto?", Answer: "知足常乐"}},
	}

	var buf bytes.Buffer
	err := newRenderer(t).Render(&buf, doc)
	require.ErrorIs(t, err, ErrMissingGlyph)
	assert.Contains(t, err.Error(), "U+77E5")
	assert.Zero(t, buf.Len(), "nothing is written for a document that cannot be drawn")
}

func TestNewRenderer_FontFile(t *testing.T) {
	dir := t.TempDir()

	font := filepath.Join(dir, "body.ttf")
	require.NoError(t, os.WriteFile(font, goregular.TTF, 0o600))
	r, err := NewRenderer(font)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, Document{
		Title:   "t",
		Entries: []Entry{{Question: "q", Answer: "это осмысленный ответ"}},
	}))
	assert.True(t, bytes.Contains(streams(buf.Bytes()), shown("это осмысленный ответ")))

	_, err = NewRenderer(filepath.Join(dir, "missing.ttf"))
	assert.Error(t, err)

	notFont := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notFont, []byte("not a font"), 0o600))
	_, err = NewRenderer(notFont)
	assert.Error(t, err)
}

func TestRender_ManyEntriesPaginate(t *testing.T) {
	entries := make([]Entry, 35)
	for i := range entries {
		entries[i] = Entry{
			Question: "A question that takes a line",
			Answer:   "An answer that is long enough to wrap across more than a single line of the page body text.",
		}
	}

	r := newRenderer(t)
	var one, many bytes.Buffer
	require.NoError(t, r.Render(&one, Document{Title: "t", Entries: entries[:1]}))
	require.NoError(t, r.Render(&many, Document{Title: "t", Entries: entries}))
	assert.Greater(t, many.Len(), one.Len())
	assert.Greater(t, bytes.Count(many.Bytes(), []byte("/Parent")), 1, "35 entries span several pages")
}

func TestRender_EmptyDocument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newRenderer(t).Render(&buf, Document{Title: "Empty"}))
	assert.NotZero(t, buf.Len())
}
