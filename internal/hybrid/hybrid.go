// Package hybrid implements the L3 hybrid search pipeline: query
// expansion, lexical retrieval across one or more collections, dense
// rerank, MMR diversification, and evidence compression (spec §4.5).
// Grounded on contextd's internal/reranker/simple.go for the
// combine-then-sort shape and pkg/core/reranker.go's "search wide, then
// rerank" idiom; the dense+sparse linear-combination weight is adapted
// from pkg/semantic-router/hybrid.go's HybridEmbedder.alpha.
package hybrid

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/vectorcore/vectorcore/internal/collection"
)

// Options configures one hybrid_search call (spec §6.3 hybrid.*).
type Options struct {
	MaxExpansions int     // default 8
	LexicalWeight float64 // default 0.5
	DenseWeight   float64 // default 0.5
	MMRLambda     float64 // default 0.7
	RerankTopM    int     // default 64: candidates carried into the dense-rerank stage
	EvidenceBudget int    // B: max compressed sentences, 0 disables compression
}

// DefaultOptions returns the spec's default hybrid weights.
func DefaultOptions() Options {
	return Options{MaxExpansions: 8, LexicalWeight: 0.5, DenseWeight: 0.5, MMRLambda: 0.7, RerankTopM: 64}
}

// Result is one hybrid_search hit with its lexical/dense component scores
// retained for diagnostics.
type Result struct {
	ID           string
	Collection   string
	Score        float32
	LexicalScore float32
	DenseScore   float32
	Metadata     map[string]any
}

// Diagnostics reports what the pipeline actually did, per spec §4.4's
// "consumers that ignore the diagnostics field must continue to work"
// (the same contract extends to hybrid_search per §6.1).
type Diagnostics struct {
	Expansions       []string
	LexicalCandidates int
	RerankedCandidates int
}

// Evidence is one compressed citation produced by the optional evidence
// compression stage.
type Evidence struct {
	Sentence string
	Citation string // "collection:chunk_id"
}

var expansionTemplates = []string{
	"%s definition",
	"what is %s",
	"%s features",
	"%s architecture",
	"%s api",
	"%s performance",
	"%s examples",
}

// expandQuery generates 1+N deterministic variants of query: the
// original plus up to max templated expansions, stopword-stripped before
// substitution (spec §4.5 step 1).
func expandQuery(query string, max int) []string {
	seed := stripStopwords(query)
	variants := []string{query}
	for i, tmpl := range expansionTemplates {
		if i >= max {
			break
		}
		variants = append(variants, sprintfTemplate(tmpl, seed))
	}
	return variants
}

func sprintfTemplate(tmpl, seed string) string {
	return strings.Replace(tmpl, "%s", seed, 1)
}

func stripStopwords(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	var kept []string
	for _, f := range fields {
		if !hybridStopWords[f] {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}

var hybridStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"is": true, "are": true, "of": true, "in": true, "on": true,
}

type candidate struct {
	id         string
	collection string
	lexical    float32
	dense      float32
	metadata   map[string]any
	denseVec   []float32
}

// Search runs the full pipeline described in spec §4.5 over
// lexicalCollections (unioned for retrieval) and denseCollection (used
// for reranking and for the original-query embedding).
func Search(ctx context.Context, lexicalCollections []*collection.Collection, denseCollection *collection.Collection, query string, k int, opts Options) ([]Result, []Evidence, Diagnostics, error) {
	if opts.MaxExpansions <= 0 {
		opts.MaxExpansions = 8
	}
	if opts.LexicalWeight == 0 && opts.DenseWeight == 0 {
		opts.LexicalWeight, opts.DenseWeight = 0.5, 0.5
	}
	if opts.MMRLambda == 0 {
		opts.MMRLambda = 0.7
	}
	if opts.RerankTopM <= 0 {
		opts.RerankTopM = 64
	}

	variants := expandQuery(query, opts.MaxExpansions)

	candidates := make(map[string]*candidate)
	for _, lc := range lexicalCollections {
		for _, variant := range variants {
			hits, err := lc.SearchText(ctx, variant, opts.RerankTopM)
			if err != nil {
				return nil, nil, Diagnostics{}, err
			}
			for _, h := range hits {
				existing, ok := candidates[h.ID]
				if !ok || h.Score > existing.lexical {
					if !ok {
						existing = &candidate{id: h.ID, collection: lc.Name, metadata: h.Metadata}
						candidates[h.ID] = existing
					}
					existing.lexical = h.Score
					existing.metadata = h.Metadata
				}
			}
		}
	}

	lexicalCount := len(candidates)
	ranked := make([]*candidate, 0, lexicalCount)
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].lexical > ranked[j].lexical })
	if len(ranked) > opts.RerankTopM {
		ranked = ranked[:opts.RerankTopM]
	}

	if denseCollection != nil {
		queryVec, err := denseEmbed(denseCollection, query)
		if err != nil {
			return nil, nil, Diagnostics{}, err
		}
		for _, c := range ranked {
			v, err := denseCollection.GetVector(c.id)
			if err != nil {
				continue
			}
			c.denseVec = v.Dense
			c.dense = cosine(queryVec, v.Dense)
		}
	}

	combined := make([]*candidate, len(ranked))
	copy(combined, ranked)
	sort.Slice(combined, func(i, j int) bool {
		return score(combined[i], opts) > score(combined[j], opts)
	})

	diversified := mmrDiversify(combined, opts.MMRLambda, k)

	out := make([]Result, len(diversified))
	for i, c := range diversified {
		out[i] = Result{
			ID: c.id, Collection: c.collection, Score: score(c, opts),
			LexicalScore: c.lexical, DenseScore: c.dense, Metadata: c.metadata,
		}
	}

	var evidence []Evidence
	if opts.EvidenceBudget > 0 {
		evidence = compressEvidence(out, opts.EvidenceBudget)
	}

	return out, evidence, Diagnostics{
		Expansions: variants, LexicalCandidates: lexicalCount, RerankedCandidates: len(ranked),
	}, nil
}

func score(c *candidate, opts Options) float32 {
	return float32(opts.LexicalWeight)*c.lexical + float32(opts.DenseWeight)*c.dense
}

func denseEmbed(denseCollection *collection.Collection, query string) ([]float32, error) {
	provider := denseCollection.Provider()
	if provider == nil {
		return nil, nil
	}
	return provider.Embed(query)
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
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

// mmrDiversify greedily selects up to k candidates maximizing
// λ·relevance − (1−λ)·max_sim_to_already_picked (spec §4.5 step 5).
func mmrDiversify(ranked []*candidate, lambda float64, k int) []*candidate {
	if k <= 0 || k > len(ranked) {
		k = len(ranked)
	}
	picked := make([]*candidate, 0, k)
	remaining := make([]*candidate, len(ranked))
	copy(remaining, ranked)
	relevance := make(map[string]float32, len(ranked))
	for _, c := range ranked {
		relevance[c.id] = c.lexical + c.dense
	}

	for len(picked) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := float32(-1e9)
		for i, c := range remaining {
			maxSim := float32(0)
			for _, p := range picked {
				if sim := cosine(c.denseVec, p.denseVec); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := float32(lambda)*relevance[c.id] - float32(1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picked
}

// compressEvidence selects up to budget sentences from the winning
// results' stored "_text" metadata, each tagged with its citation (spec
// §4.5 step 6, the "discovery" flavor's evidence-compression step).
func compressEvidence(results []Result, budget int) []Evidence {
	var out []Evidence
	for _, r := range results {
		if len(out) >= budget {
			break
		}
		text, _ := r.Metadata["_text"].(string)
		if text == "" {
			continue
		}
		sentence := firstSentence(text)
		out = append(out, Evidence{Sentence: sentence, Citation: r.Collection + ":" + r.ID})
	}
	return out
}

func firstSentence(text string) string {
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		return strings.TrimSpace(text[:idx+1])
	}
	return strings.TrimSpace(text)
}
