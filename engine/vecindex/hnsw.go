// Package vecindex provides approximate nearest-neighbor search over dense
// float32 vectors using a hierarchical navigable small world (HNSW) graph.
//
// The index supports online insert and delete without a full rebuild:
// deletes tombstone the node (its links keep routing traffic, its id is never
// returned) and a compaction rebuild reclaims the graph once the tombstone
// ratio grows past a threshold. Compaction builds the new graph off to the
// side and swaps it in under a short write lock, so in-flight queries keep
// reading a consistent snapshot.
package vecindex

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/savorhq/tastecore/engine/errs"
)

// Config holds the two quality/latency tunables of the graph.
//
// M and EfConstruction trade build time for graph quality; EfSearch trades
// query latency for recall.
type Config struct {
	// M is the maximum number of bidirectional links per node per layer.
	M int
	// EfConstruction is the candidate list width during insertion.
	EfConstruction int
	// EfSearch is the candidate list width during queries.
	EfSearch int
}

// DefaultConfig returns balanced tunables (recall ~0.95 on small corpora).
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 100}
}

// Match is a single search result, closest first.
type Match struct {
	ID string
	// Distance is the cosine distance (1 - cosine similarity) in [0, 2].
	Distance float32
}

type node struct {
	id        string
	vector    []float32 // normalized at insert time
	level     int
	neighbors [][]uint32 // adjacency per layer, layer 0 first
	deleted   bool
}

// Index is an HNSW graph over normalized vectors.
// Safe for concurrent use; readers proceed in parallel with each other.
type Index struct {
	mu sync.RWMutex

	dim        int
	cfg        Config
	levelMult  float64
	nodes      []*node
	byID       map[string]uint32
	entry      uint32
	hasEntry   bool
	maxLevel   int
	tombstones int
	rng        *rand.Rand
}

// New creates an empty index for vectors of the given dimension.
func New(dim int, cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = DefaultConfig().M
	}
	if cfg.EfConstruction < cfg.M {
		cfg.EfConstruction = DefaultConfig().EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultConfig().EfSearch
	}
	return &Index{
		dim:       dim,
		cfg:       cfg,
		levelMult: 1.0 / math.Log(float64(cfg.M)),
		byID:      make(map[string]uint32),
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Dimensions returns the vector dimension the index was built for.
func (ix *Index) Dimensions() int { return ix.dim }

// Len returns the number of live (non-tombstoned) vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// TombstoneRatio returns tombstoned nodes over total nodes.
func (ix *Index) TombstoneRatio() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.nodes) == 0 {
		return 0
	}
	return float64(ix.tombstones) / float64(len(ix.nodes))
}

// Add inserts the vector under id, replacing any previous vector for id.
// The replaced node is tombstoned so concurrent readers never observe a
// half-linked graph.
func (ix *Index) Add(id string, vector []float32) error {
	if len(vector) != ix.dim {
		return errs.Validation("vector dimension %d does not match index dimension %d", len(vector), ix.dim)
	}
	normalized := normalize(vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.byID[id]; ok {
		ix.nodes[prev].deleted = true
		ix.tombstones++
		delete(ix.byID, id)
	}

	level := ix.randomLevel()
	n := &node{
		id:        id,
		vector:    normalized,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	idx := uint32(len(ix.nodes))
	ix.nodes = append(ix.nodes, n)
	ix.byID[id] = idx

	if !ix.hasEntry {
		ix.entry = idx
		ix.hasEntry = true
		ix.maxLevel = level
		return nil
	}

	curr := ix.entry
	// Greedy descent through layers above the insertion level.
	for layer := ix.maxLevel; layer > level; layer-- {
		curr = ix.greedyClosest(normalized, curr, layer)
	}

	// Link into every layer at or below the insertion level.
	for layer := min(level, ix.maxLevel); layer >= 0; layer-- {
		candidates := ix.searchLayer(normalized, curr, ix.cfg.EfConstruction, layer)
		neighbors := ix.selectClosest(candidates, ix.cfg.M)
		n.neighbors[layer] = neighbors
		for _, other := range neighbors {
			ix.linkBack(other, idx, layer)
		}
		if len(candidates) > 0 {
			curr = candidates[0].idx
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entry = idx
	}
	return nil
}

// Delete tombstones the vector for id. Idempotent; absent ids are a no-op.
func (ix *Index) Delete(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, ok := ix.byID[id]
	if !ok {
		return
	}
	ix.nodes[idx].deleted = true
	ix.tombstones++
	delete(ix.byID, id)
}

// Search returns the k nearest live vectors to query in ascending distance.
// A non-nil allow restricts results to ids it accepts; filtering happens
// while candidates are collected, not as a post-pass over a truncated list.
func (ix *Index) Search(query []float32, k int, allow func(id string) bool) ([]Match, error) {
	if len(query) != ix.dim {
		return nil, errs.Validation("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	normalized := normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.hasEntry {
		return nil, nil
	}

	curr := ix.entry
	for layer := ix.maxLevel; layer > 0; layer-- {
		curr = ix.greedyClosest(normalized, curr, layer)
	}

	ef := ix.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := ix.searchLayer(normalized, curr, ef, 0)

	matches := make([]Match, 0, k)
	for _, c := range candidates {
		n := ix.nodes[c.idx]
		if n.deleted {
			continue
		}
		// The byID map must still point at this node: a replaced node keeps
		// deleted=false until the writer flips it, but byID is authoritative.
		if live, ok := ix.byID[n.id]; !ok || live != c.idx {
			continue
		}
		if allow != nil && !allow(n.id) {
			continue
		}
		matches = append(matches, Match{ID: n.id, Distance: c.dist})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// SearchSubset ranks exactly the given ids by distance to query and returns
// the k closest. Used when the caller's filter set is small enough that
// scoring it directly beats graph traversal.
func (ix *Index) SearchSubset(query []float32, k int, ids []string) ([]Match, error) {
	if len(query) != ix.dim {
		return nil, errs.Validation("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	normalized := normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		idx, ok := ix.byID[id]
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: id, Distance: cosineDistance(normalized, ix.nodes[idx].vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Compact rebuilds the graph without tombstones. The new graph is built from
// a snapshot outside the write lock; queries keep running against the old
// graph until the final swap. Callers must serialize Compact against Add and
// Delete: a write landing between the snapshot and the swap is lost.
func (ix *Index) Compact() {
	ix.mu.RLock()
	type pair struct {
		id  string
		vec []float32
	}
	snapshot := make([]pair, 0, len(ix.byID))
	for id, idx := range ix.byID {
		snapshot = append(snapshot, pair{id: id, vec: ix.nodes[idx].vector})
	}
	ix.mu.RUnlock()

	// Deterministic rebuild order keeps compaction reproducible.
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	rebuilt := New(ix.dim, ix.cfg)
	for _, p := range snapshot {
		// Vectors in the snapshot are already normalized; Add normalizes
		// again, which is a no-op for unit vectors.
		_ = rebuilt.Add(p.id, p.vec)
	}

	ix.mu.Lock()
	ix.nodes = rebuilt.nodes
	ix.byID = rebuilt.byID
	ix.entry = rebuilt.entry
	ix.hasEntry = rebuilt.hasEntry
	ix.maxLevel = rebuilt.maxLevel
	ix.tombstones = 0
	ix.mu.Unlock()
}

type candidate struct {
	idx  uint32
	dist float32
}

// greedyClosest walks one layer greedily toward query. Lock held by caller.
func (ix *Index) greedyClosest(query []float32, start uint32, layer int) uint32 {
	curr := start
	currDist := cosineDistance(query, ix.nodes[curr].vector)
	for {
		improved := false
		for _, other := range ix.neighborsAt(curr, layer) {
			d := cosineDistance(query, ix.nodes[other].vector)
			if d < currDist {
				curr = other
				currDist = d
				improved = true
			}
		}
		if !improved {
			return curr
		}
	}
}

// searchLayer runs the ef-bounded best-first search on one layer and returns
// candidates in ascending distance. Lock held by caller.
func (ix *Index) searchLayer(query []float32, entry uint32, ef int, layer int) []candidate {
	visited := map[uint32]struct{}{entry: {}}
	entryDist := cosineDistance(query, ix.nodes[entry].vector)

	frontier := &minHeap{{idx: entry, dist: entryDist}}
	results := &maxHeap{{idx: entry, dist: entryDist}}

	for frontier.Len() > 0 {
		nearest := frontier.pop()
		if results.Len() >= ef && nearest.dist > results.peek().dist {
			break
		}
		for _, other := range ix.neighborsAt(nearest.idx, layer) {
			if _, seen := visited[other]; seen {
				continue
			}
			visited[other] = struct{}{}
			d := cosineDistance(query, ix.nodes[other].vector)
			if results.Len() < ef || d < results.peek().dist {
				frontier.push(candidate{idx: other, dist: d})
				results.push(candidate{idx: other, dist: d})
				if results.Len() > ef {
					results.pop()
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectClosest keeps the m closest candidates. Lock held by caller.
func (ix *Index) selectClosest(candidates []candidate, m int) []uint32 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.idx
	}
	return out
}

// linkBack adds a reverse edge and prunes the neighbor list back to the link
// budget. Layer 0 allows 2*M links, upper layers M, per the HNSW paper.
// Lock held by caller.
func (ix *Index) linkBack(from, to uint32, layer int) {
	n := ix.nodes[from]
	if layer > n.level {
		return
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)

	budget := ix.cfg.M
	if layer == 0 {
		budget = 2 * ix.cfg.M
	}
	if len(n.neighbors[layer]) <= budget {
		return
	}

	links := n.neighbors[layer]
	sort.Slice(links, func(i, j int) bool {
		return cosineDistance(n.vector, ix.nodes[links[i]].vector) <
			cosineDistance(n.vector, ix.nodes[links[j]].vector)
	})
	n.neighbors[layer] = links[:budget]
}

func (ix *Index) neighborsAt(idx uint32, layer int) []uint32 {
	n := ix.nodes[idx]
	if layer > n.level {
		return nil
	}
	return n.neighbors[layer]
}

func (ix *Index) randomLevel() int {
	level := int(math.Floor(-math.Log(ix.rng.Float64()) * ix.levelMult))
	const maxLayers = 16
	if level > maxLayers {
		level = maxLayers
	}
	return level
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	inv := 1.0 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// cosineDistance assumes both vectors are normalized.
func cosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}
