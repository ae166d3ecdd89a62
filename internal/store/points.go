package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	"github.com/XuanZiK/V-knowledge/internal/chunk"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// Payload keys written with every point.
const (
	PayloadText       = "text"
	PayloadContent    = "content"
	PayloadFilename   = "filename"
	PayloadFileType   = "file_type"
	PayloadSource     = "source"
	PayloadChunkType  = "chunk_type"
	PayloadChunkIndex = "chunk_index"
	PayloadTimestamp  = "timestamp"
)

// chunkRecord is the serialized chunk kept in the "text" payload field.
type chunkRecord struct {
	Content    string `json:"content"`
	ChunkType  string `json:"chunk_type"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber int    `json:"page_number,omitempty"`
	Style      string `json:"style,omitempty"`
	Source     string `json:"source"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	CreatedAt  string `json:"created_at"`
}

func recordOf(c chunk.Chunk) chunkRecord {
	var created string
	if !c.Source.CreatedAt.IsZero() {
		created = c.Source.CreatedAt.Format(time.RFC3339)
	}
	return chunkRecord{
		Content:    c.Content,
		ChunkType:  string(c.Type),
		ChunkIndex: c.Index,
		PageNumber: c.PageNumber,
		Style:      c.Style,
		Source:     c.Source.Path,
		Filename:   c.Source.Filename,
		FileType:   c.Source.FileType,
		CreatedAt:  created,
	}
}

// AddTexts embeds chunks and upserts them as one batch. Point IDs continue
// from the collection's current point count. When isFirstChunkOfDocument is
// set the collection's doc_count goes up by one.
func (s *VectorStore) AddTexts(ctx context.Context, collection string, chunks []chunk.Chunk, isFirstChunkOfDocument bool) error {
	if len(chunks) == 0 {
		return nil
	}

	info, err := s.backend.GetCollection(ctx, collection)
	if err != nil {
		return err
	}
	startID := uint64(info.PointsCount)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return vkberrors.New(vkberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(chunks)), nil)
	}

	now := time.Now().Format(time.RFC3339)
	points := make([]backend.Point, len(chunks))
	for i, c := range chunks {
		record, err := json.Marshal(recordOf(c))
		if err != nil {
			return vkberrors.InternalError("encode chunk record", err)
		}
		points[i] = backend.Point{
			ID:     startID + uint64(i),
			Vector: vectors[i],
			Payload: map[string]any{
				PayloadText:       string(record),
				PayloadContent:    c.Content,
				PayloadFilename:   c.Source.Filename,
				PayloadFileType:   c.Source.FileType,
				PayloadSource:     c.Source.Path,
				PayloadChunkType:  string(c.Type),
				PayloadChunkIndex: c.Index,
				PayloadTimestamp:  now,
			},
		}
	}

	if err := s.backend.Upsert(ctx, collection, points); err != nil {
		return err
	}

	if isFirstChunkOfDocument {
		if _, err := s.registry.IncrementDocCount(collection); err != nil {
			return err
		}
	}

	s.logger.Debug("texts_added",
		slog.String("collection", collection),
		slog.Int("count", len(points)),
		slog.Uint64("start_id", startID))
	return nil
}

// AddTextStrings stores raw texts as paragraph chunks without source metadata.
func (s *VectorStore) AddTextStrings(ctx context.Context, collection string, texts []string, isFirstChunkOfDocument bool) error {
	chunks := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = chunk.Chunk{Content: t, Type: chunk.ChunkTypeParagraph, Index: i + 1}
	}
	return s.AddTexts(ctx, collection, chunks, isFirstChunkOfDocument)
}
