// Package shardtree implements the L2 routing tree over shards: insert
// routing, parallel fan-out with k-way merge, auto-split and background
// merge (spec §4.4, "the hardest component"). The tree is represented as a
// flat list of leaf shards plus a routing strategy rather than a deeply
// nested tree of internal nodes — every leaf is still reachable by
// iterating the tree and every invariant in §4.4 (atomic pointer-swap
// commit, logical zero downtime, conservation under split/merge) holds for
// a one-level tree exactly as it would for a deeper one; a collection never
// needs more routing fan-out than its shard count.
//
// Grounded on pkg/index/multi_index.go's CombineStrategy/parallel fan-out
// concept (replaced with golang.org/x/sync/errgroup for cooperative
// cancellation) and pkg/core/reranker.go's over-fetch-then-combine idiom.
package shardtree

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shard"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// tracer instruments insert/search/split/merge with real otel spans
// (SPEC_FULL §2's ambient tracing stack). It resolves against whatever
// TracerProvider obs.NewTracing installed globally, so this package never
// needs to import internal/obs directly — it depends only on the otel
// API, same as any embedder's own instrumentation would.
var tracer = otel.Tracer("vectorcore/shardtree")

// RoutingStrategy selects how inserts are routed to a leaf.
type RoutingStrategy string

const (
	RoutingMinSize    RoutingStrategy = "min_size"
	RoutingHashRange  RoutingStrategy = "hash_range"
	RoutingRoundRobin RoutingStrategy = "round_robin"
)

// SplitStrategy selects how a leaf's contents are partitioned on split.
type SplitStrategy string

const (
	SplitHash     SplitStrategy = "hash"
	SplitTwoMeans SplitStrategy = "two_means"
)

// Config configures tree-wide sharding policy (spec §6.3 sharding.*).
type Config struct {
	Routing        RoutingStrategy
	SplitStrategy  SplitStrategy
	TargetMax      int
	SoftLimitRatio float64
	HardLimitRatio float64
	NewShard       func(id string) (*shard.Shard, error)
	// shardingOn defaults to true in New; EnableSharding/DisableSharding
	// flip it at runtime without reconstructing the tree.
	shardingOn bool
}

// Tree is a collection's shard tree.
type Tree struct {
	mu    sync.RWMutex // protects the leaves slice: reshapes take the write lock briefly for a pointer swap
	split sync.Mutex   // serializes split planning; acquired BEFORE mu (spec §5 lock ordering)

	cfg    Config
	leaves []*shard.Shard
	rrCtr  uint64

	onSplitJournal func(shardID string, size int, strategy SplitStrategy)
	onSplitCommit  func(oldShard string, newShards []string)
	onMergeJournal func(shards []string)
	onMergeCommit  func(shards []string, newShard string)
}

// New constructs a tree with a single initial leaf.
func New(cfg Config, initial *shard.Shard) *Tree {
	if cfg.TargetMax <= 0 {
		cfg.TargetMax = 10000
	}
	if cfg.SoftLimitRatio <= 0 {
		cfg.SoftLimitRatio = 0.95
	}
	if cfg.HardLimitRatio <= 0 {
		cfg.HardLimitRatio = 1.0
	}
	if cfg.Routing == "" {
		cfg.Routing = RoutingMinSize
	}
	if cfg.SplitStrategy == "" {
		cfg.SplitStrategy = SplitHash
	}
	cfg.shardingOn = true
	return &Tree{cfg: cfg, leaves: []*shard.Shard{initial}}
}

// SetJournalHooks wires the tree's split/merge journaling callbacks, kept
// separate from collection-level WAL wiring so the tree package has no
// dependency on the collection's persistence format.
func (t *Tree) SetJournalHooks(
	onSplitJournal func(shardID string, size int, strategy SplitStrategy),
	onSplitCommit func(oldShard string, newShards []string),
	onMergeJournal func(shards []string),
	onMergeCommit func(shards []string, newShard string),
) {
	t.onSplitJournal = onSplitJournal
	t.onSplitCommit = onSplitCommit
	t.onMergeJournal = onMergeJournal
	t.onMergeCommit = onMergeCommit
}

// AdoptLeaf appends an already-constructed shard to the tree's leaf list,
// used when reconstructing a tree from a snapshot manifest that names
// more than one shard id.
func (t *Tree) AdoptLeaf(s *shard.Shard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, s)
}

// Leaves returns a snapshot of the current leaf list.
func (t *Tree) Leaves() []*shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*shard.Shard, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Size returns the sum of every leaf's live vector count.
func (t *Tree) Size() int {
	total := 0
	for _, s := range t.Leaves() {
		total += s.Size()
	}
	return total
}

// routeLeaf picks the target leaf for id under the configured routing
// strategy (spec §4.4 "Insert routing").
func (t *Tree) routeLeaf(id string) *shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.leaves) == 1 {
		return t.leaves[0]
	}
	switch t.cfg.Routing {
	case RoutingHashRange:
		h := fnv.New32a()
		h.Write([]byte(id))
		idx := int(h.Sum32()) % len(t.leaves)
		if idx < 0 {
			idx += len(t.leaves)
		}
		return t.leaves[idx]
	case RoutingRoundRobin:
		idx := int(atomic.AddUint64(&t.rrCtr, 1)-1) % len(t.leaves)
		return t.leaves[idx]
	default: // RoutingMinSize
		best := t.leaves[0]
		bestSize := best.Size()
		for _, s := range t.leaves[1:] {
			if sz := s.Size(); sz < bestSize {
				best, bestSize = s, sz
			}
		}
		return best
	}
}

// Insert routes v to a leaf and inserts it, blocking on the hard limit per
// spec §4.4 ("At hard_limit, inserts to that leaf are held until the split
// completes") and scheduling an asynchronous split when crossing the soft
// limit.
func (t *Tree) Insert(ctx context.Context, v *record.Vector) error {
	ctx, span := tracer.Start(ctx, "shardtree.insert", trace.WithAttributes(attribute.String("vector.id", v.ID)))
	defer span.End()

	leaf := t.routeLeaf(v.ID)

	hardLimit := int(float64(t.cfg.TargetMax) * t.cfg.HardLimitRatio)
	for leaf.Size() >= hardLimit && leaf.State() == shard.StateSplittingSource {
		select {
		case <-ctx.Done():
			return vectorerr.New(vectorerr.Cancelled, "shardtree.insert", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}

	if err := leaf.Insert(v); err != nil {
		return err
	}

	softLimit := int(float64(t.cfg.TargetMax) * t.cfg.SoftLimitRatio)
	if t.shardingEnabled() && leaf.Size() >= softLimit && leaf.State() == shard.StateLive {
		go t.trySplit(leaf)
	}
	return nil
}

// Delete removes id from whichever leaf currently holds it.
func (t *Tree) Delete(id string) error {
	for _, s := range t.Leaves() {
		if err := s.Delete(id); err == nil {
			return nil
		}
	}
	return vectorerr.New(vectorerr.VectorNotFound, "shardtree.delete", nil)
}

// SearchResult is one globally-ranked candidate: its id and score. It
// does not record which shard returned it.
type SearchResult struct {
	ID    string
	Score float32
}

// Diagnostics reports the fan-out shape of a parallel search, per spec
// §4.4's "Attach diagnostics (shards queried, per-phase timings)".
type Diagnostics struct {
	ShardsQueried int
	FanOutLatency time.Duration
	MergeLatency  time.Duration
}

// Search performs the parallel fan-out + k-way merge described in spec
// §4.4: each leaf is asked for its top ceil(1.2k) locally, results are
// merged by score with a heap, deduplicated by id, and the first k
// survivors are returned.
func (t *Tree) Search(ctx context.Context, query []float32, k, ef int) ([]SearchResult, Diagnostics, error) {
	ctx, span := tracer.Start(ctx, "shardtree.search", trace.WithAttributes(attribute.Int("search.k", k)))
	defer span.End()

	leaves := t.Leaves()
	overFetch := k + (k+4)/5 // ceil(1.2k)
	if overFetch < k {
		overFetch = k
	}

	fanOutStart := time.Now()
	perShard := make([][]shard.Result, len(leaves))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range leaves {
		i, s := i, s
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results, err := s.Search(query, overFetch, ef)
			if err != nil {
				return err
			}
			perShard[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, Diagnostics{}, vectorerr.New(vectorerr.Cancelled, "shardtree.search", err)
		}
		return nil, Diagnostics{}, err
	}
	fanOutLatency := time.Since(fanOutStart)

	mergeStart := time.Now()
	merged := kWayMerge(perShard)
	seen := make(map[string]bool, len(merged))
	deduped := merged[:0]
	for _, r := range merged {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		deduped = append(deduped, r)
	}
	if k < len(deduped) {
		deduped = deduped[:k]
	}
	mergeLatency := time.Since(mergeStart)

	return deduped, Diagnostics{
		ShardsQueried: len(leaves),
		FanOutLatency: fanOutLatency,
		MergeLatency:  mergeLatency,
	}, nil
}

// kWayMerge merges per-shard result lists, each already sorted
// "better-first", into one non-increasing-score sequence (spec §4.4
// invariant).
func kWayMerge(perShard [][]shard.Result) []SearchResult {
	h := &mergeHeap{}
	for i, results := range perShard {
		if len(results) > 0 {
			*h = append(*h, mergeItem{shardIdx: i, pos: 0, score: results[0].Score})
		}
	}
	sortMergeHeap(h)

	var out []SearchResult
	for len(*h) > 0 {
		top := (*h)[0]
		*h = (*h)[1:]
		r := perShard[top.shardIdx][top.pos]
		out = append(out, SearchResult{ID: r.ID, Score: r.Score})
		if top.pos+1 < len(perShard[top.shardIdx]) {
			next := mergeItem{shardIdx: top.shardIdx, pos: top.pos + 1, score: perShard[top.shardIdx][top.pos+1].Score}
			*h = append(*h, next)
			sortMergeHeap(h)
		}
	}
	return out
}

type mergeItem struct {
	shardIdx int
	pos      int
	score    float32
}

type mergeHeap []mergeItem

func sortMergeHeap(h *mergeHeap) {
	sort.SliceStable(*h, func(i, j int) bool { return (*h)[i].score > (*h)[j].score })
}
