// Package embedding implements the L2 embedding providers: deterministic
// text-to-vector transforms with persisted vocabularies (spec §4.6).
// Grounded on pkg/semantic-router/sparse.go's BM25Encoder/TFIDFEncoder
// (tokenizer, stop-word list, IDF math) and pkg/core/dimension.go's
// pad/truncate projection idiom, generalized into the Provider interface
// every collection embeds against.
package embedding

import (
	"crypto/sha256"
	"encoding/gob"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// Provider is the embedding contract a collection embeds text against
// (spec §6.4): deterministic, persisted state, non-degenerate fallback.
type Provider interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
	// Fit retrains the provider's persisted state (vocabulary / projection
	// matrix) over a corpus. Lexical providers use this to (re)compute
	// document frequencies; dense providers may no-op.
	Fit(documents []string) error
	Save(w io.Writer) error
	Load(r io.Reader) error
}

func init() {
	gob.Register(map[string]float64{})
}

// tokenize lowercases, splits on whitespace, and drops stop words and
// one-byte tokens (the length check is in bytes, so a single multi-byte
// character such as a CJK ideograph is kept), matching the teacher's sparse.go tokenizer
// (kept bilingual: the teacher's stop-word list already covers a small
// set of Chinese function words alongside English ones).
func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.Fields(text)
	var terms []string
	for _, w := range words {
		if !stopWords[w] && len(w) > 1 {
			terms = append(terms, w)
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
	"我": true, "你": true, "他": true, "她": true, "它": true,
	"的": true, "了": true, "是": true, "在": true, "有": true,
	"和": true, "与": true, "或": true, "但": true, "不": true,
}

// l2Normalize normalizes v in place and returns it; a zero vector is left
// untouched (callers needing the non-degeneracy guarantee must route
// through fallbackEmbed instead of calling this directly on a possibly
// all-zero vector).
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// fallbackEmbed produces the deterministic hash-derived pseudo-embedding
// required by spec §4.6 whenever the natural embedding of text would be
// all-zero (unknown tokens, or the empty string itself). The embedding is
// a function of text alone, not of any provider's learned state, so it is
// reproducible across restarts without needing to persist anything extra.
func fallbackEmbed(text string, dim int) []float32 {
	out := make([]float32, dim)
	sum := sha256.Sum256([]byte("vectorcore.fallback:" + text))
	for i := 0; i < dim; i++ {
		b := sum[i%len(sum)]
		// Spread the byte across a signed range so repeated bytes (for
		// dim > len(sum)) don't collapse into identical components after
		// normalization; mix in the index.
		out[i] = float32(int(b)-128) + float32((i*31)%7) - 3
	}
	if dim > 0 && isZero(out) {
		// Every component cancelled out (at dim 1: a hash byte of 131);
		// keep the result non-degenerate.
		out[0] = 1
	}
	return l2Normalize(out)
}

// isZero reports whether every component of v is exactly zero.
func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func newProviderError(op string, err error) error {
	return vectorerr.New(vectorerr.EmbeddingFailure, op, err)
}

// vocabIndex is a shared token->index allocator used by the lexical
// providers so their persisted state (§3 "vocabulary mapping token →
// index, document frequency, weight parameters") has a stable dimension
// ordering across Save/Load.
type vocabIndex struct {
	mu     sync.RWMutex
	tokens []string
	index  map[string]int
}

func newVocabIndex() *vocabIndex {
	return &vocabIndex{index: make(map[string]int)}
}

func (v *vocabIndex) indexOf(token string) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	i, ok := v.index[token]
	return i, ok
}

func (v *vocabIndex) intern(token string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i, ok := v.index[token]; ok {
		return i
	}
	i := len(v.tokens)
	v.tokens = append(v.tokens, token)
	v.index[token] = i
	return i
}

func (v *vocabIndex) size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

func (v *vocabIndex) snapshot() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}

func (v *vocabIndex) restore(tokens []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens = tokens
	v.index = make(map[string]int, len(tokens))
	for i, t := range tokens {
		v.index[t] = i
	}
}

// topTerms returns the top-k (term, weight) pairs from a sparse map,
// sorted by weight descending.
func topTerms(vec map[string]float64, k int) []termScore {
	if len(vec) == 0 {
		return nil
	}
	scores := make([]termScore, 0, len(vec))
	for term, score := range vec {
		scores = append(scores, termScore{Term: term, Score: score})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > 0 && k < len(scores) {
		scores = scores[:k]
	}
	return scores
}

// termScore is one term with its sparse-vector weight.
type termScore struct {
	Term  string
	Score float64
}
