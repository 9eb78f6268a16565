package hybrid

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcore/vectorcore/internal/collection"
	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
)

func newLexicalCollection(t *testing.T, name string, corpus []string) *collection.Collection {
	t.Helper()
	provider := embedding.NewBagOfTokens()
	require.NoError(t, provider.Fit(corpus))
	cfg := collection.Config{
		Dimension: provider.Dimensions(), Metric: graph.MetricCosine, GraphM: 8, EfConstruction: 32, EfSearch: 32,
		StorageKind: storage.KindMemory, TargetMax: 1000, SoftLimitRatio: 0.95, HardLimitRatio: 1.0,
		Routing: shardtree.RoutingMinSize, SplitStrategy: shardtree.SplitHash, WALFsyncEveryN: 4,
	}
	col, err := collection.New(name, cfg, filepath.Join(t.TempDir(), name), provider, nil)
	require.NoError(t, err)
	return col
}

// TestScenarioF_HybridDeduplicatesAcrossCollections mirrors spec.md's
// Scenario F: two collections share a chunk id; the merged result must
// contain that id at most once.
func TestScenarioF_HybridDeduplicatesAcrossCollections(t *testing.T) {
	corpus := []string{"golang concurrency patterns", "python async patterns", "rust ownership model"}
	colA := newLexicalCollection(t, "colA", corpus)
	colB := newLexicalCollection(t, "colB", corpus)

	ctx := context.Background()
	_, err := colA.InsertText(ctx, []collection.TextRecord{
		{ID: "shared-1", Text: "golang concurrency patterns"},
		{ID: "a-only", Text: "rust ownership model"},
	})
	require.NoError(t, err)
	_, err = colB.InsertText(ctx, []collection.TextRecord{
		{ID: "shared-1", Text: "golang concurrency patterns"},
		{ID: "b-only", Text: "python async patterns"},
	})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.DenseWeight = 0 // no shared dense collection in this test; lexical-only combination
	opts.LexicalWeight = 1
	results, _, _, err := Search(ctx, []*collection.Collection{colA, colB}, nil, "golang concurrency", 10, opts)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range results {
		seen[r.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "id %s must appear at most once", id)
	}
	assert.Contains(t, seen, "shared-1")
}

func TestExpandQueryCapsAtMaxExpansions(t *testing.T) {
	variants := expandQuery("vector search", 3)
	assert.Len(t, variants, 4) // original + 3 expansions
	assert.Equal(t, "vector search", variants[0])
}

func TestMMRDiversifyRespectsK(t *testing.T) {
	candidates := []*candidate{
		{id: "a", lexical: 0.9, denseVec: []float32{1, 0}},
		{id: "b", lexical: 0.89, denseVec: []float32{1, 0}}, // near-duplicate of a
		{id: "c", lexical: 0.5, denseVec: []float32{0, 1}},
	}
	picked := mmrDiversify(candidates, 0.7, 2)
	assert.Len(t, picked, 2)
}
