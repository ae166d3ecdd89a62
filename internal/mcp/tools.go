package mcp

// SearchInput is the search tool's input.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the question or text to search for"`
	Collection string `json:"collection,omitempty" jsonschema:"collection to search, defaults to the current one"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
	Rerank     bool   `json:"rerank,omitempty" jsonschema:"rerank results with the active rerank model"`
}

// SearchOutput is the search tool's output.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results" jsonschema:"results, best first"`
	Reranked bool                 `json:"reranked" jsonschema:"true if a rerank model ordered the results"`
}

// SearchResultOutput is one search result.
type SearchResultOutput struct {
	Document string  `json:"document" jsonschema:"source document file name"`
	Content  string  `json:"content" jsonschema:"matched chunk text"`
	Score    float64 `json:"score" jsonschema:"similarity or rerank score"`
}

// ListCollectionsInput takes no parameters.
type ListCollectionsInput struct{}

// ListCollectionsOutput lists collections with their registry data.
type ListCollectionsOutput struct {
	Current     string           `json:"current,omitempty" jsonschema:"collection searched by default"`
	Collections []CollectionInfo `json:"collections"`
}

// CollectionInfoInput names a collection.
type CollectionInfoInput struct {
	Name string `json:"name" jsonschema:"collection name"`
}

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	DocCount  int    `json:"doc_count" jsonschema:"number of ingested documents"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status" jsonschema:"backend status, or unknown"`
}
