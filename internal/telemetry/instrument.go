package telemetry

import (
	"context"
	"log/slog"

	"github.com/XuanZiK/V-knowledge/internal/logging"
	"github.com/XuanZiK/V-knowledge/internal/search"
)

// Searcher is the search surface being measured.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Recorder receives query events.
type Recorder interface {
	Record(ctx context.Context, e QueryEvent) error
}

// InstrumentedSearcher records every successful search. Recording failures
// are logged and never reach the caller.
type InstrumentedSearcher struct {
	next     Searcher
	recorder Recorder
	logger   *slog.Logger
}

// Instrument wraps next so its searches are recorded.
func Instrument(next Searcher, recorder Recorder, logger *slog.Logger) *InstrumentedSearcher {
	return &InstrumentedSearcher{next: next, recorder: recorder, logger: logging.OrDiscard(logger)}
}

// Search runs the wrapped search, then records it.
func (s *InstrumentedSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	resp, err := s.next.Search(ctx, req)
	if err != nil {
		return resp, err
	}

	collection := req.Collection
	if collection == "" {
		collection = "(current)"
	}
	event := QueryEvent{
		Query:       req.Query,
		Collection:  collection,
		ResultCount: len(resp.Hits),
		Reranked:    resp.Reranked,
		Latency:     resp.TotalElapsed,
	}
	// Recording outlives a cancelled request so the search still counts.
	if rerr := s.recorder.Record(context.WithoutCancel(ctx), event); rerr != nil {
		s.logger.Warn("telemetry_record_failed", slog.String("error", rerr.Error()))
	}
	return resp, nil
}
