package embedding

import (
	"encoding/gob"
	"io"
	"math/rand"
	"sync"
)

// SVDProvider post-projects a sparse provider's output to a lower
// dimension D via a fixed random projection matrix, persisted alongside
// the inner provider's vocabulary (spec §4.6 "SVD reduction"). A true
// truncated-SVD requires an iterative solver this codebase has no
// dependency for; a fixed Gaussian random projection is the standard
// Johnson-Lindenstrauss substitute and is what pkg/core/dimension.go's
// pad/truncate idiom generalizes to once the target dimension is smaller
// than the source — deterministic given a seed, which is what persistence
// requires here.
type SVDProvider struct {
	mu     sync.RWMutex
	inner  Provider
	target int
	matrix [][]float32 // target x inner.Dimensions(), built lazily after Fit
	seed   int64
}

// NewSVD wraps inner (typically a TF-IDF or BM25 provider) with a
// projection down to targetDim dimensions.
func NewSVD(inner Provider, targetDim int, seed int64) *SVDProvider {
	return &SVDProvider{inner: inner, target: targetDim, seed: seed}
}

func (p *SVDProvider) Dimensions() int { return p.target }

func (p *SVDProvider) Fit(documents []string) error {
	if err := p.inner.Fit(documents); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matrix = buildProjection(p.target, p.inner.Dimensions(), p.seed)
	return nil
}

func (p *SVDProvider) Embed(text string) ([]float32, error) {
	sparse, err := p.inner.Embed(text)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	matrix := p.matrix
	p.mu.RUnlock()
	if matrix == nil {
		return fallbackEmbed(text, p.target), nil
	}

	out := make([]float32, p.target)
	for i, row := range matrix {
		var sum float32
		for j, w := range row {
			if j < len(sparse) {
				sum += w * sparse[j]
			}
		}
		out[i] = sum
	}
	if isZero(out) {
		return fallbackEmbed(text, p.target), nil
	}
	return l2Normalize(out), nil
}

func buildProjection(target, source int, seed int64) [][]float32 {
	if source == 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	matrix := make([][]float32, target)
	for i := range matrix {
		row := make([]float32, source)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		matrix[i] = row
	}
	return matrix
}

type svdSnapshot struct {
	Target int
	Seed   int64
	Matrix [][]float32
}

func (p *SVDProvider) Save(w io.Writer) error {
	if err := p.inner.Save(w); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := svdSnapshot{Target: p.target, Seed: p.seed, Matrix: p.matrix}
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return newProviderError("embedding.svd.save", err)
	}
	return nil
}

func (p *SVDProvider) Load(r io.Reader) error {
	if err := p.inner.Load(r); err != nil {
		return err
	}
	var snap svdSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return newProviderError("embedding.svd.load", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = snap.Target
	p.seed = snap.Seed
	p.matrix = snap.Matrix
	return nil
}
