// Package validation measures retrieval quality of a collection with a
// data-driven query file: each query names the documents a good search
// should return, and negative queries check that unrelated questions stay
// below a similarity threshold.
//
// Example query file:
//
//	collection: manuals
//	limit: 5
//	queries:
//	  - id: Q1
//	    query: how do I reset the device
//	    expected: [reset.pdf]
//	negative:
//	  - id: N1
//	    query: chocolate cake recipe
//	    max_score: 0.5
package validation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/search"
)

// DefaultLimit is the result depth used when the query file sets none.
const DefaultLimit = 5

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Query string `yaml:"query" json:"query"`

	// Expected lists document names (or name fragments). The query passes
	// when any of them appears in the results.
	Expected []string `yaml:"expected,omitempty" json:"expected,omitempty"`

	// MaxScore, for negative queries, is the highest acceptable top score.
	// Zero means the query only has to run without error.
	MaxScore float64 `yaml:"max_score,omitempty" json:"max_score,omitempty"`

	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// QuerySet is a loaded query file.
type QuerySet struct {
	Collection string      `yaml:"collection"`
	Limit      int         `yaml:"limit"`
	Rerank     bool        `yaml:"rerank"`
	Queries    []QuerySpec `yaml:"queries"`
	Negative   []QuerySpec `yaml:"negative"`
}

// LoadQueries reads and checks a query file.
func LoadQueries(path string) (*QuerySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vkberrors.NotFoundError(path, err)
		}
		return nil, vkberrors.New(vkberrors.ErrCodeFilePermission, "cannot read query file", err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a query file. Every query needs query text, and
// positive queries need at least one expected document.
func ParseQueries(data []byte) (*QuerySet, error) {
	var set QuerySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, vkberrors.ValidationError("invalid query file", err)
	}
	if set.Limit <= 0 {
		set.Limit = DefaultLimit
	}
	if len(set.Queries)+len(set.Negative) == 0 {
		return nil, vkberrors.ValidationError("query file has no queries", nil)
	}

	for i := range set.Queries {
		q := &set.Queries[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("Q%d", i+1)
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, vkberrors.ValidationError(fmt.Sprintf("query %s has no text", q.ID), nil)
		}
		if len(q.Expected) == 0 {
			return nil, vkberrors.ValidationError(fmt.Sprintf("query %s lists no expected documents", q.ID), nil).
				WithSuggestion("move it under negative: if no document should match")
		}
	}
	for i := range set.Negative {
		q := &set.Negative[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("N%d", i+1)
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, vkberrors.ValidationError(fmt.Sprintf("query %s has no text", q.ID), nil)
		}
	}
	return &set, nil
}

// TestResult captures the outcome of a single query.
type TestResult struct {
	Spec      QuerySpec `json:"spec"`
	Passed    bool      `json:"passed"`
	Duration  int64     `json:"duration_ms"`
	Documents []string  `json:"documents"`
	TopScore  float64   `json:"top_score"`
	MatchedAt int       `json:"matched_at"` // rank of the first expected document, -1 if absent
	Error     string    `json:"error,omitempty"`
}

// Result captures a full run.
type Result struct {
	Timestamp  time.Time    `json:"timestamp"`
	Collection string       `json:"collection"`
	Queries    []TestResult `json:"queries"`
	Negative   []TestResult `json:"negative"`
	Passed     int          `json:"passed"`
	Total      int          `json:"total"`

	// MRR is the mean reciprocal rank over positive queries.
	MRR float64 `json:"mrr"`
}

// Failed is the number of queries that did not pass.
func (r *Result) Failed() int { return r.Total - r.Passed }

// Searcher runs searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Validator runs query sets against a searcher.
type Validator struct {
	searcher Searcher
}

// NewValidator creates a validator.
func NewValidator(searcher Searcher) *Validator {
	return &Validator{searcher: searcher}
}

// RunQuery executes one query. negative selects the score-threshold check
// instead of the expected-document check.
func (v *Validator) RunQuery(ctx context.Context, set *QuerySet, spec QuerySpec, negative bool) TestResult {
	start := time.Now()
	result := TestResult{Spec: spec, MatchedAt: -1, Documents: []string{}}

	resp, err := v.searcher.Search(ctx, search.Request{
		Query:      spec.Query,
		Collection: set.Collection,
		Limit:      set.Limit,
		Rerank:     set.Rerank,
	})
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	for _, h := range resp.Hits {
		result.Documents = append(result.Documents, h.Document)
	}
	if len(resp.Hits) > 0 {
		result.TopScore = float64(resp.Hits[0].Score)
	}

	if negative {
		result.Passed = spec.MaxScore <= 0 || result.TopScore <= spec.MaxScore
		return result
	}
	result.MatchedAt = checkExpected(result.Documents, spec.Expected)
	result.Passed = result.MatchedAt >= 0
	return result
}

// RunAll executes every query in set. Context cancellation stops the run
// between queries.
func (v *Validator) RunAll(ctx context.Context, set *QuerySet) *Result {
	result := &Result{Timestamp: time.Now(), Collection: set.Collection}

	var reciprocal float64
	for _, spec := range set.Queries {
		if ctx.Err() != nil {
			break
		}
		tr := v.RunQuery(ctx, set, spec, false)
		result.Queries = append(result.Queries, tr)
		if tr.MatchedAt >= 0 {
			reciprocal += 1 / float64(tr.MatchedAt+1)
		}
	}
	for _, spec := range set.Negative {
		if ctx.Err() != nil {
			break
		}
		result.Negative = append(result.Negative, v.RunQuery(ctx, set, spec, true))
	}

	for _, tr := range append(append([]TestResult{}, result.Queries...), result.Negative...) {
		result.Total++
		if tr.Passed {
			result.Passed++
		}
	}
	if len(result.Queries) > 0 {
		result.MRR = reciprocal / float64(len(result.Queries))
	}
	return result
}

// checkExpected returns the rank of the first document matching any
// expected name, case-insensitively by substring, or -1.
func checkExpected(documents, expected []string) int {
	for i, doc := range documents {
		lower := strings.ToLower(doc)
		for _, exp := range expected {
			if exp != "" && strings.Contains(lower, strings.ToLower(exp)) {
				return i
			}
		}
	}
	return -1
}
