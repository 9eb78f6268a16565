package graph

import (
	"container/heap"
	"encoding/gob"
	"io"
	"math"
	"math/rand"
	"sync"

	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// node is a single HNSW graph node. Grounded on pkg/index/hnsw.go's
// HNSWNode, with the Quantized/Quantizer fields dropped: quantization is
// stubbed to "none" per spec §9 Open Questions, so the graph only ever
// stores raw float32 vectors.
type node struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]string
	Deleted   bool
}

// gobNode/gobIndex are the persisted shapes for Save/Load, kept separate
// from node/Index so unexported fields (mu, rng, score func) never need gob
// registration.
type gobNode struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]string
	Deleted   bool
}

type gobIndex struct {
	M              int
	MaxM           int
	EfConstruction int
	Dimension      int
	Metric         Metric
	EntryPoint     string
	Nodes          []gobNode
}

// HNSW is a per-shard approximate nearest-neighbor index: a hierarchical
// navigable small-world graph. Grounded on pkg/index/hnsw.go's layered
// construction (selectLevel exponential decay, heap-based searchLayer,
// bidirectional addConnection, neighbor-list pruning) generalized to the
// spec's error taxonomy, score convention and tombstone-replace-on-insert
// edge case.
type HNSW struct {
	mu sync.RWMutex

	Dimension      int
	Metric         Metric
	M              int
	MaxM           int
	EfConstruction int
	ml             float64

	nodes      map[string]*node
	entryPoint string
	rng        *rand.Rand
	score      func(a, b []float32) float32

	// adaptiveThreshold is the live-vector count below which Search falls
	// back to an exhaustive scan instead of a graph walk (spec §4.1's
	// "adaptive policy"; graph heuristics are unreliable at small sizes).
	adaptiveThreshold int
}

// Config configures a new HNSW index.
type Config struct {
	Dimension         int
	Metric            Metric
	M                 int
	EfConstruction    int
	AdaptiveThreshold int
	Seed              int64
}

// New constructs an empty HNSW index for a shard.
func New(cfg Config) *HNSW {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.AdaptiveThreshold <= 0 {
		cfg.AdaptiveThreshold = 300
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &HNSW{
		Dimension:         cfg.Dimension,
		Metric:            cfg.Metric,
		M:                 cfg.M,
		MaxM:              cfg.M * 2,
		EfConstruction:    cfg.EfConstruction,
		ml:                1 / math.Log(2),
		nodes:             make(map[string]*node),
		rng:               rand.New(rand.NewSource(seed)),
		score:             scoreFunc(cfg.Metric),
		adaptiveThreshold: cfg.AdaptiveThreshold,
	}
}

func (h *HNSW) selectLevel() int {
	level := 0
	for h.rng.Float64() < 1.0/math.E && level < 16 {
		level++
	}
	return level
}

func (h *HNSW) storedVector(v []float32) []float32 {
	vec := make([]float32, len(v))
	copy(vec, v)
	if h.Metric == MetricCosine {
		return normalizeInPlace(vec)
	}
	return vec
}

func normalizeInPlace(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Insert adds id/vector to the index. An id that previously existed as a
// live node fails with DuplicateId; an id that exists only as a tombstone
// is replaced and relinked (spec §4.1 edge case).
func (h *HNSW) Insert(id string, vector []float32) error {
	const op = "graph.insert"
	if len(vector) != h.Dimension {
		return vectorerr.Newf(vectorerr.DimensionMismatch, op, "expected %d, got %d", h.Dimension, len(vector))
	}
	for _, f := range vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return vectorerr.New(vectorerr.InvalidVector, op, nil)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.nodes[id]; ok {
		if !existing.Deleted {
			return vectorerr.New(vectorerr.DuplicateId, op, nil)
		}
		h.unlinkLocked(existing)
		delete(h.nodes, id)
		if h.entryPoint == id {
			h.entryPoint = ""
		}
	}

	level := h.selectLevel()
	n := &node{
		ID:        id,
		Vector:    h.storedVector(vector),
		Level:     level,
		Neighbors: make([][]string, level+1),
	}
	h.nodes[id] = n

	if h.entryPoint == "" {
		h.entryPoint = id
		return nil
	}

	entry := h.nodes[h.entryPoint]
	curLevel := entry.Level
	cur := []string{entry.ID}

	for lc := curLevel; lc > level; lc-- {
		cur = h.searchLayerClosest(n.Vector, cur, 1, lc)
	}

	for lc := min(curLevel, level); lc >= 0; lc-- {
		candidates := h.searchLayer(n.Vector, cur, h.EfConstruction, lc)
		neighbors := h.selectNeighborsHeuristic(candidates, h.M)
		for _, nb := range neighbors {
			h.addConnectionLocked(n, h.nodes[nb.id], lc)
		}
		cur = idsOf(candidates)
	}

	if level > entry.Level {
		h.entryPoint = id
	}
	return nil
}

func (h *HNSW) unlinkLocked(n *node) {
	for lc, neighbors := range n.Neighbors {
		for _, nbID := range neighbors {
			nb, ok := h.nodes[nbID]
			if !ok {
				continue
			}
			if lc >= len(nb.Neighbors) {
				continue
			}
			nb.Neighbors[lc] = removeID(nb.Neighbors[lc], n.ID)
		}
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

type scored struct {
	id    string
	score float32
}

func idsOf(items []scored) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// maxHeap pops the highest score first (greedy "closest" exploration).
type maxHeap []scored

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// minHeap pops the lowest score first (used to evict the current worst
// member of the dynamic result list).
type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// searchLayer performs the greedy dual-heap expansion at one graph layer,
// grounded on pkg/index/hnsw.go's searchLayer, adapted from distance
// (smaller-better) to score (higher-better) semantics throughout.
func (h *HNSW) searchLayer(query []float32, entryPoints []string, ef int, layer int) []scored {
	visited := make(map[string]bool, ef*2)
	candidates := &maxHeap{}
	dynamic := &minHeap{}

	for _, id := range entryPoints {
		n, ok := h.nodes[id]
		if !ok || visited[id] {
			continue
		}
		visited[id] = true
		s := h.score(query, n.Vector)
		heap.Push(candidates, scored{id, s})
		heap.Push(dynamic, scored{id, s})
	}

	for candidates.Len() > 0 {
		best := heap.Pop(candidates).(scored)
		if dynamic.Len() >= ef {
			worst := (*dynamic)[0]
			if best.score < worst.score {
				break
			}
		}

		n := h.nodes[best.id]
		if layer >= len(n.Neighbors) {
			continue
		}
		for _, nbID := range n.Neighbors[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb, ok := h.nodes[nbID]
			if !ok {
				continue
			}
			s := h.score(query, nb.Vector)
			if dynamic.Len() < ef {
				heap.Push(candidates, scored{nbID, s})
				heap.Push(dynamic, scored{nbID, s})
			} else if s > (*dynamic)[0].score {
				heap.Push(candidates, scored{nbID, s})
				heap.Push(dynamic, scored{nbID, s})
				heap.Pop(dynamic)
			}
		}
	}

	out := make([]scored, dynamic.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(dynamic).(scored)
	}
	return out
}

func (h *HNSW) searchLayerClosest(query []float32, entryPoints []string, num, layer int) []string {
	res := h.searchLayer(query, entryPoints, num, layer)
	if len(res) > num {
		res = res[:num]
	}
	return idsOf(res)
}

// selectNeighborsHeuristic truncates candidates to the m best by score.
// Documented in pkg/index/hnsw.go as a simplification versus the full
// diversity-aware RNG heuristic; kept as-is here for the same reason.
func (h *HNSW) selectNeighborsHeuristic(candidates []scored, m int) []scored {
	sortedByScoreDesc(candidates)
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	return candidates
}

func sortedByScoreDesc(items []scored) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].score > items[j-1].score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func (h *HNSW) addConnectionLocked(a, b *node, layer int) {
	if a == nil || b == nil || a.ID == b.ID {
		return
	}
	a.Neighbors[layer] = appendUnique(a.Neighbors[layer], b.ID)
	if layer >= len(b.Neighbors) {
		return
	}
	b.Neighbors[layer] = appendUnique(b.Neighbors[layer], a.ID)
	if len(b.Neighbors[layer]) > h.MaxM {
		b.Neighbors[layer] = h.pruneLocked(b, layer)
	}
	if len(a.Neighbors[layer]) > h.MaxM {
		a.Neighbors[layer] = h.pruneLocked(a, layer)
	}
}

func (h *HNSW) pruneLocked(n *node, layer int) []string {
	cands := make([]scored, 0, len(n.Neighbors[layer]))
	for _, id := range n.Neighbors[layer] {
		nb, ok := h.nodes[id]
		if !ok {
			continue
		}
		cands = append(cands, scored{id, h.score(n.Vector, nb.Vector)})
	}
	sortedByScoreDesc(cands)
	if len(cands) > h.MaxM {
		cands = cands[:h.MaxM]
	}
	return idsOf(cands)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Search returns up to k (id, score) pairs ordered "better first". Below
// adaptiveThreshold live vectors, it falls back to an exhaustive scan
// (spec §4.1's adaptive policy).
func (h *HNSW) Search(query []float32, k, ef int) ([]string, []float32, error) {
	const op = "graph.search"
	if len(query) != h.Dimension {
		return nil, nil, vectorerr.Newf(vectorerr.DimensionMismatch, op, "expected %d, got %d", h.Dimension, len(query))
	}
	for _, f := range query {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, nil, vectorerr.New(vectorerr.InvalidVector, op, nil)
		}
	}
	if ef <= 0 {
		ef = 64
	}
	if ef < k {
		ef = k
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	q := query
	if h.Metric == MetricCosine {
		q = normalizeInPlace(append([]float32(nil), query...))
	}

	if h.liveCountLocked() == 0 {
		return []string{}, []float32{}, nil
	}

	var results []scored
	if h.liveCountLocked() < h.adaptiveThreshold {
		results = h.exhaustiveLocked(q)
	} else {
		results = h.graphSearchLocked(q, ef)
	}

	sortedByScoreDesc(results)
	live := results[:0]
	for _, r := range results {
		if n, ok := h.nodes[r.id]; ok && !n.Deleted {
			live = append(live, r)
		}
	}
	if k < len(live) {
		live = live[:k]
	}

	ids := make([]string, len(live))
	scores := make([]float32, len(live))
	for i, r := range live {
		ids[i] = r.id
		scores[i] = r.score
	}
	return ids, scores, nil
}

func (h *HNSW) graphSearchLocked(query []float32, ef int) []scored {
	if h.entryPoint == "" {
		return nil
	}
	entry := h.nodes[h.entryPoint]
	cur := []string{entry.ID}
	for lc := entry.Level; lc > 0; lc-- {
		cur = h.searchLayerClosest(query, cur, 1, lc)
		if len(cur) == 0 {
			cur = []string{entry.ID}
		}
	}
	return h.searchLayer(query, cur, ef, 0)
}

func (h *HNSW) exhaustiveLocked(query []float32) []scored {
	out := make([]scored, 0, len(h.nodes))
	for id, n := range h.nodes {
		if n.Deleted {
			continue
		}
		out = append(out, scored{id, h.score(query, n.Vector)})
	}
	return out
}

func (h *HNSW) liveCountLocked() int {
	n := 0
	for _, nd := range h.nodes {
		if !nd.Deleted {
			n++
		}
	}
	return n
}

// MarkDeleted tombstones id: O(1), filtered from future search results.
func (h *HNSW) MarkDeleted(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[id]
	if !ok || n.Deleted {
		return vectorerr.New(vectorerr.VectorNotFound, "graph.mark_deleted", nil)
	}
	n.Deleted = true
	if h.entryPoint == id {
		h.reelectEntryPointLocked()
	}
	return nil
}

func (h *HNSW) reelectEntryPointLocked() {
	for id, n := range h.nodes {
		if !n.Deleted {
			h.entryPoint = id
			return
		}
	}
	h.entryPoint = ""
}

// GetVector returns the stored (possibly normalized) vector for id.
func (h *HNSW) GetVector(id string) ([]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	if !ok || n.Deleted {
		return nil, vectorerr.New(vectorerr.VectorNotFound, "graph.get_vector", nil)
	}
	out := make([]float32, len(n.Vector))
	copy(out, n.Vector)
	return out, nil
}

// Size returns the number of live (non-tombstoned) nodes.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCountLocked()
}

// Stats reports index-health counters used by the shard's stats record.
func (h *HNSW) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	live, deleted, edges, maxLevel := 0, 0, 0, 0
	for _, n := range h.nodes {
		if n.Deleted {
			deleted++
		} else {
			live++
		}
		for _, layer := range n.Neighbors {
			edges += len(layer)
		}
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}
	return map[string]any{
		"live":            live,
		"tombstoned":      deleted,
		"edges":           edges,
		"max_level":       maxLevel,
		"entry_point":     h.entryPoint,
		"m":               h.M,
		"ef_construction": h.EfConstruction,
	}
}

// Save serializes the graph via gob, grounded on pkg/index/hnsw.go's
// Save/Load.
func (h *HNSW) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g := gobIndex{
		M:              h.M,
		MaxM:           h.MaxM,
		EfConstruction: h.EfConstruction,
		Dimension:      h.Dimension,
		Metric:         h.Metric,
		EntryPoint:     h.entryPoint,
		Nodes:          make([]gobNode, 0, len(h.nodes)),
	}
	for _, n := range h.nodes {
		g.Nodes = append(g.Nodes, gobNode{
			ID: n.ID, Vector: n.Vector, Level: n.Level,
			Neighbors: n.Neighbors, Deleted: n.Deleted,
		})
	}
	return gob.NewEncoder(w).Encode(g)
}

// Load reconstructs a graph previously written by Save.
func Load(r io.Reader, adaptiveThreshold int, seed int64) (*HNSW, error) {
	var g gobIndex
	if err := gob.NewDecoder(r).Decode(&g); err != nil {
		return nil, vectorerr.New(vectorerr.IoError, "graph.load", err)
	}
	h := New(Config{
		Dimension: g.Dimension, Metric: g.Metric, M: g.M,
		EfConstruction: g.EfConstruction, AdaptiveThreshold: adaptiveThreshold, Seed: seed,
	})
	h.MaxM = g.MaxM
	h.entryPoint = g.EntryPoint
	for _, gn := range g.Nodes {
		h.nodes[gn.ID] = &node{
			ID: gn.ID, Vector: gn.Vector, Level: gn.Level,
			Neighbors: gn.Neighbors, Deleted: gn.Deleted,
		}
	}
	return h, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
