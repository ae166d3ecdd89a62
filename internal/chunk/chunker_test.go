package chunk

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProcess_PlainTextParagraphs(t *testing.T) {
	// Given: three non-empty paragraphs separated by blank lines
	path := writeTemp(t, "notes.txt", []byte("alpha one\n\nbeta two\n\n  gamma three  \n"))
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return fixed }))

	// When: processing
	chunks, err := c.Process(context.Background(), path, nil)

	// Then: one chunk per paragraph, indices 1..3, trimmed, stamped
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.Index)
		assert.Equal(t, ChunkTypeParagraph, ch.Type)
		assert.Equal(t, "notes.txt", ch.Source.Filename)
		assert.Equal(t, "TXT", ch.Source.FileType)
		assert.Equal(t, path, ch.Source.Path)
		assert.Equal(t, fixed, ch.Source.CreatedAt)
	}
	assert.Equal(t, "gamma three", chunks[2].Content)
}

func TestProcess_EmptySegmentsKeepPositionalIndex(t *testing.T) {
	// Given: an empty segment between paragraphs
	path := writeTemp(t, "gaps.txt", []byte("first\n\n\n\nsecond"))

	chunks, err := New().Process(context.Background(), path, nil)

	// Then: the empty segment is skipped but still counted
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Index)
	assert.Equal(t, 3, chunks[1].Index)
}

func TestProcess_CRLFLineEndings(t *testing.T) {
	path := writeTemp(t, "win.txt", []byte("one\r\n\r\ntwo\r\n"))

	chunks, err := New().Process(context.Background(), path, nil)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "two", chunks[1].Content)
}

func TestProcess_ProgressIsMonotonicAndEndsAt100(t *testing.T) {
	path := writeTemp(t, "p.txt", []byte("a\n\nb\n\nc"))
	var got []int

	_, err := New().Process(context.Background(), path, func(pct int) { got = append(got, pct) })

	require.NoError(t, err)
	assert.Equal(t, []int{33, 66, 100}, got)
}

type emptyStrategy struct{}

func (emptyStrategy) Type() ChunkType { return ChunkTypePage }
func (emptyStrategy) Units(context.Context, string) ([]Unit, error) {
	return nil, nil
}

func TestProcess_NoUnitsNeverReportsProgress(t *testing.T) {
	path := writeTemp(t, "blank.pdf", []byte("%PDF"))
	c := New(WithStrategy(".pdf", emptyStrategy{}))
	called := false

	chunks, err := c.Process(context.Background(), path, func(int) { called = true })

	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.False(t, called)
}

func TestProcess_Errors(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "old.doc")
	require.NoError(t, os.WriteFile(doc, []byte{0xd0, 0xcf}, 0o644))
	xls := filepath.Join(dir, "sheet.xls")
	require.NoError(t, os.WriteFile(xls, []byte("x"), 0o644))
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte{0xff}, 0o644))

	tests := []struct {
		name string
		path string
		want *vkberrors.Error
	}{
		{"missing file", filepath.Join(dir, "nope.txt"), vkberrors.ErrNotFound},
		{"directory", dir, vkberrors.ErrNotFound},
		{"unknown extension", xls, vkberrors.ErrUnsupportedType},
		{"legacy doc", doc, vkberrors.ErrUnsupportedType},
		{"undecodable text", bad, vkberrors.ErrDecode},
		{"broken pdf", writeTemp(t, "broken.pdf", []byte("not a pdf")), vkberrors.ErrDecode},
		{"broken docx", writeTemp(t, "broken.docx", []byte("not a zip")), vkberrors.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Process(context.Background(), tt.path, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcess_LegacyDocSuggestsConversion(t *testing.T) {
	path := writeTemp(t, "old.DOC", []byte{0xd0, 0xcf})

	_, err := New().Process(context.Background(), path, nil)

	var ve *vkberrors.Error
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Suggestion, ".docx")
}

func TestProcess_CancelledContext(t *testing.T) {
	path := writeTemp(t, "c.txt", []byte("a\n\nb"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Process(ctx, path, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupportedExtensions_ExcludesLegacyDoc(t *testing.T) {
	c := New()
	exts := c.SupportedExtensions()

	assert.Contains(t, exts, ".txt")
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".docx")
	assert.NotContains(t, exts, ".doc")
	assert.True(t, c.Supports("/a/B.TXT"))
	assert.False(t, c.Supports("/a/b.doc"))
}

func buildDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)

	w, err = zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/></w:style>
</w:styles>`))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestProcess_DOCXParagraphsWithStyles(t *testing.T) {
	// Given: a heading, an empty paragraph and a body paragraph split across runs
	path := buildDOCX(t, `
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Title</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t xml:space="preserve">Hello </w:t></w:r><w:r><w:tab/><w:t>world</w:t></w:r></w:p>`)

	// When: processing
	chunks, err := New().Process(context.Background(), path, nil)

	// Then: two chunks, positional indices, resolved style names
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Title", chunks[0].Content)
	assert.Equal(t, "heading 1", chunks[0].Style)
	assert.Equal(t, 1, chunks[0].Index)
	assert.Equal(t, "Hello \tworld", chunks[1].Content)
	assert.Equal(t, "Normal", chunks[1].Style)
	assert.Equal(t, 3, chunks[1].Index)
	assert.Equal(t, "DOCX", chunks[1].Source.FileType)
}

func TestProcess_ManyParagraphs(t *testing.T) {
	var parts []string
	for i := 0; i < 25; i++ {
		parts = append(parts, strings.Repeat("w", i+1))
	}
	path := writeTemp(t, "many.txt", []byte(strings.Join(parts, "\n\n")))

	chunks, err := New().Process(context.Background(), path, nil)

	require.NoError(t, err)
	require.Len(t, chunks, 25)
	assert.Equal(t, 25, chunks[24].Index)
}
