package local

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// graphCandidates is how many graph neighbours are rescored per query.
const graphCandidates = 64

// scoredID is a search hit before its payload is attached.
type scoredID struct {
	id    uint64
	score float32
}

// vectorIndex is one collection's normalized vectors, loaded from SQLite
// after any write invalidates them. graph is nil unless the collection is
// above the exact-search threshold and the graph found every stored vector
// from its own vector.
type vectorIndex struct {
	once    sync.Once
	ids     []uint64
	vectors [][]float32
	graph   *hnsw.Graph[uint64]
	err     error
}

// entrySource makes the first node the only one on the upper layer.
// Every search then enters the graph at that node, so a search returns the
// same nodes for the same query until the graph is rebuilt.
type entrySource struct{ calls int }

func (s *entrySource) Int63() int64 {
	s.calls++
	if s.calls == 1 {
		return 0
	}
	return 3 << 61 // 0.75, above Ml: layer 0 only
}

func (s *entrySource) Seed(int64) {}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 128
	g.Ml = 0.25
	g.Rng = rand.New(&entrySource{})
	return g
}

func (b *Backend) invalidate(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexes != nil {
		delete(b.indexes, name)
	}
}

func (b *Backend) index(name string) *vectorIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.indexes[name]
	if !ok {
		idx = &vectorIndex{}
		if b.indexes != nil {
			b.indexes[name] = idx
		}
	}
	return idx
}

// load returns the collection's index, reading it on first use.
func (b *Backend) load(ctx context.Context, name string) (*vectorIndex, error) {
	idx := b.index(name)
	idx.once.Do(func() {
		idx.err = b.eachVector(ctx, name, func(id uint64, vec []float32) {
			idx.ids = append(idx.ids, id)
			idx.vectors = append(idx.vectors, normalized(vec))
		})
		if idx.err != nil || len(idx.ids) <= b.exact {
			return
		}
		idx.graph = b.buildGraph(name, idx.ids, idx.vectors)
	})
	if idx.err != nil {
		b.invalidate(name)
		return nil, idx.err
	}
	return idx, nil
}

// buildGraph returns nil when some stored vector cannot be found through
// the graph; the collection is then searched exhaustively.
func (b *Backend) buildGraph(name string, ids []uint64, vectors [][]float32) *hnsw.Graph[uint64] {
	g := newGraph()
	for i, id := range ids {
		g.Add(hnsw.MakeNode(id, vectors[i]))
	}
	for i, id := range ids {
		if !containsKey(g.Search(vectors[i], graphCandidates), id) {
			b.logger.Info("local_graph_rejected",
				slog.String("collection", name),
				slog.Int("points", len(ids)),
				slog.Uint64("unreachable_id", id))
			return nil
		}
	}
	b.logger.Debug("local_graph_built", slog.String("collection", name), slog.Int("points", len(ids)))
	return g
}

func containsKey(nodes []hnsw.Node[uint64], id uint64) bool {
	for _, n := range nodes {
		if n.Key == id {
			return true
		}
	}
	return false
}

// search returns the limit best points by cosine similarity.
func (idx *vectorIndex) search(query []float32, limit int) []scoredID {
	q := normalized(query)
	var hits []scoredID
	if idx.graph != nil {
		nodes := idx.graph.Search(q, max(limit, graphCandidates))
		hits = make([]scoredID, 0, len(nodes))
		for _, node := range nodes {
			hits = append(hits, scoredID{id: node.Key, score: cosineSimilarity(q, node.Value)})
		}
	} else {
		hits = make([]scoredID, 0, len(idx.ids))
		for i, id := range idx.ids {
			hits = append(hits, scoredID{id: id, score: cosineSimilarity(q, idx.vectors[i])})
		}
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// eachVector streams every vector of a collection in id order.
func (b *Backend) eachVector(ctx context.Context, name string, fn func(id uint64, vec []float32)) error {
	rows, err := b.db.QueryContext(ctx, `SELECT id, vector FROM points WHERE collection = ? ORDER BY id`, name)
	if err != nil {
		return fmt.Errorf("failed to read vectors of %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("failed to scan vector: %w", err)
		}
		fn(uint64(id), decodeVector(blob))
	}
	return rows.Err()
}

// sortHits orders by descending score, then ascending id.
func sortHits(hits []scoredID) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
