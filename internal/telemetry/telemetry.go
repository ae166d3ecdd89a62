// Package telemetry records search query patterns for tuning a knowledge
// base: volume per collection, latency histogram, frequent terms and
// queries that found nothing. All data stays in a local SQLite file.
package telemetry

import (
	"strings"
	"time"
	"unicode"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// Buckets lists the histogram buckets in ascending order.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search as seen by the recorder.
type QueryEvent struct {
	Query       string
	Collection  string
	ResultCount int
	Reranked    bool
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports a search that returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is a search that found nothing.
type ZeroResultQuery struct {
	Query      string    `json:"query"`
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats summarizes recorded searches over a date range.
type Stats struct {
	From         string                  `json:"from"`
	To           string                  `json:"to"`
	Total        int64                   `json:"total"`
	ZeroResults  int64                   `json:"zero_results"`
	Reranked     int64                   `json:"reranked"`
	ByCollection map[string]int64        `json:"by_collection"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	TopTerms     []TermCount             `json:"top_terms"`
	RecentZero   []ZeroResultQuery       `json:"recent_zero_results"`
}

// ZeroResultRate is ZeroResults/Total, 0 when nothing was recorded.
func (s Stats) ZeroResultRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Total)
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "with": {},
}

// ExtractTerms splits a query into lowercase terms, dropping stop words,
// single characters and duplicates. Han characters count as terms on their own.
func ExtractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, f := range fields {
		if hasHan(f) {
			for _, r := range f {
				add(string(r))
			}
			continue
		}
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		add(f)
	}
	return terms
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
