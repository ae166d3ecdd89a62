package store

import (
	"context"
	"encoding/json"
	"log/slog"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// UnknownDocument labels hits whose payload names no file.
const UnknownDocument = "Unknown Document"

// Hit is one search result.
type Hit struct {
	Score    float32 `json:"score"`
	Document string  `json:"document"`
	Text     string  `json:"text"`
}

// resolveCollection picks the explicit name, else the current collection,
// else the first backend collection (which becomes current).
func (s *VectorStore) resolveCollection(ctx context.Context, name string) (string, error) {
	if name != "" {
		return name, nil
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != "" {
		return current, nil
	}

	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", vkberrors.NoCollectionsError()
	}

	s.mu.Lock()
	if s.current == "" {
		s.current = names[0]
	}
	current = s.current
	s.mu.Unlock()
	return current, nil
}

// Search embeds query and returns up to limit hits. The only error returned
// is NoCollections when no collection can be chosen; embedding and backend
// failures are logged and yield an empty result.
func (s *VectorStore) Search(ctx context.Context, query, collection string, limit int) ([]Hit, error) {
	name, err := s.resolveCollection(ctx, collection)
	if err != nil {
		if vkberrors.GetCode(err) == vkberrors.ErrCodeNoCollections {
			return nil, err
		}
		s.logger.Error("search_failed", slog.String("stage", "resolve"), vkberrors.LogAttr(err))
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Error("search_failed",
			slog.String("stage", "embed"),
			slog.String("collection", name),
			vkberrors.LogAttr(err))
		return []Hit{}, nil
	}

	points, err := s.backend.Search(ctx, name, vector, limit)
	if err != nil {
		s.logger.Error("search_failed",
			slog.String("stage", "backend"),
			slog.String("collection", name),
			vkberrors.LogAttr(err))
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			Score:    p.Score,
			Document: documentLabel(p.Payload),
			Text:     hitText(p.Payload),
		})
	}
	return hits, nil
}

// documentLabel reads the filename from the JSON record in the text field,
// falling back to the top-level filename.
func documentLabel(payload map[string]any) string {
	if raw, ok := payload[PayloadText].(string); ok {
		var record map[string]any
		if json.Unmarshal([]byte(raw), &record) == nil {
			if name, ok := record[PayloadFilename].(string); ok && name != "" {
				return name
			}
		}
	}
	if name, ok := payload[PayloadFilename].(string); ok && name != "" {
		return name
	}
	return UnknownDocument
}

func hitText(payload map[string]any) string {
	if content, ok := payload[PayloadContent].(string); ok {
		return content
	}
	text, _ := payload[PayloadText].(string)
	return text
}
