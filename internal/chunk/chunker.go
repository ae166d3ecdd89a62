// Package chunk turns documents on disk into ordered text chunks.
//
// Each supported extension maps to a Strategy that splits the file into
// units (paragraphs or pages). The Chunker drops empty units, reports
// progress and stamps source metadata on every chunk.
package chunk

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// Chunker dispatches documents to strategies by extension.
type Chunker struct {
	strategies map[string]Strategy
	now        func() time.Time
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithStrategy registers s for ext, replacing any existing entry.
func WithStrategy(ext string, s Strategy) Option {
	return func(c *Chunker) {
		c.strategies[normalizeExt(ext)] = s
	}
}

// WithClock overrides the timestamp source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(c *Chunker) {
		c.now = now
	}
}

// New creates a Chunker with the built-in strategies for plain text,
// PDF and DOCX. Legacy .doc files are recognised but rejected.
func New(opts ...Option) *Chunker {
	text := NewTextStrategy()
	c := &Chunker{
		strategies: map[string]Strategy{
			".txt":      text,
			".text":     text,
			".md":       text,
			".markdown": text,
			".pdf":      NewPDFStrategy(),
			".docx":     NewDOCXStrategy(),
			".doc":      legacyDocStrategy{},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SupportedExtensions returns the extensions that can be ingested, sorted.
// .doc is excluded because it always fails.
func (c *Chunker) SupportedExtensions() []string {
	exts := make([]string, 0, len(c.strategies))
	for ext, s := range c.strategies {
		if _, legacy := s.(legacyDocStrategy); legacy {
			continue
		}
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has an ingestible extension.
func (c *Chunker) Supports(path string) bool {
	s, ok := c.strategies[normalizeExt(filepath.Ext(path))]
	if !ok {
		return false
	}
	_, legacy := s.(legacyDocStrategy)
	return !legacy
}

// Stat resolves path into a Document.
func Stat(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, vkberrors.NotFoundError(path, err)
	}
	if info.IsDir() {
		return Document{}, vkberrors.NotFoundError(path, nil).
			WithSuggestion("pass a file, or use a folder import")
	}
	return Document{Path: path, Size: info.Size(), Ext: normalizeExt(filepath.Ext(path))}, nil
}

// Process chunks the document at path. onProgress may be nil.
func (c *Chunker) Process(ctx context.Context, path string, onProgress ProgressFunc) ([]Chunk, error) {
	doc, err := Stat(path)
	if err != nil {
		return nil, err
	}

	strategy, ok := c.strategies[doc.Ext]
	if !ok {
		return nil, vkberrors.UnsupportedTypeError(filepath.Ext(path))
	}

	units, err := strategy.Units(ctx, path)
	if err != nil {
		return nil, err
	}

	src := Source{
		Path:      path,
		Filename:  filepath.Base(path),
		FileType:  strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")),
		CreatedAt: c.now(),
	}

	total := len(units)
	chunks := make([]Chunk, 0, total)
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if content := strings.TrimSpace(u.Text); content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				Type:       strategy.Type(),
				Index:      i + 1,
				PageNumber: u.PageNumber,
				Style:      u.Style,
				Source:     src,
			})
		}

		if onProgress != nil {
			onProgress((i + 1) * 100 / total)
		}
	}

	return chunks, nil
}

// legacyDocStrategy rejects binary Word documents.
type legacyDocStrategy struct{}

func (legacyDocStrategy) Type() ChunkType { return ChunkTypeParagraph }

func (legacyDocStrategy) Units(context.Context, string) ([]Unit, error) {
	return nil, vkberrors.UnsupportedTypeError(".doc").
		WithSuggestion("legacy .doc files are not supported, convert the document to .docx first")
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
