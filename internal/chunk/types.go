package chunk

import (
	"context"
	"time"
)

// ChunkType is the unit a chunk was cut from.
type ChunkType string

const (
	ChunkTypeParagraph ChunkType = "paragraph"
	ChunkTypePage      ChunkType = "page"
)

// Source describes the document a chunk came from.
type Source struct {
	Path      string    // Absolute or caller-supplied path
	Filename  string    // Base name
	FileType  string    // Upper-case extension without dot (TXT, PDF, DOCX)
	CreatedAt time.Time // When the document was chunked
}

// Chunk is a unit of extracted text with positional metadata, pre-embedding.
type Chunk struct {
	Content    string
	Type       ChunkType
	Index      int    // 1-based position of the unit within the document
	PageNumber int    // Page chunks only
	Style      string // Word paragraph style name, when known
	Source     Source
}

// Document is an ephemeral reference to a file on disk.
type Document struct {
	Path string
	Size int64
	Ext  string // Normalized lower-case extension with dot
}

// Unit is one raw paragraph or page produced by a Strategy.
// Empty units are kept so chunk indices reflect position in the source.
type Unit struct {
	Text       string
	PageNumber int
	Style      string
}

// Strategy splits one kind of document into units.
type Strategy interface {
	// Type is the chunk type produced for every unit.
	Type() ChunkType

	// Units reads the document at path and returns its units in order.
	Units(ctx context.Context, path string) ([]Unit, error)
}

// ProgressFunc receives a percentage in [0, 100] after each unit.
type ProgressFunc func(pct int)
