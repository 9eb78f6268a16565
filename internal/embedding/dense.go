package embedding

import (
	"encoding/gob"
	"io"
)

// DenseFunc is an externally-supplied dense embedding function — the seam
// a real model-inference runtime plugs into. Model inference itself is
// out of scope (spec §1 Non-goals); this package only owns the contract
// and the deterministic fallback.
type DenseFunc func(text string) ([]float32, error)

// DenseProvider wraps an external neural embedder. It is stateless beyond
// its configured dimension (spec §4.6: "Dense neural — stateless at
// runtime beyond loaded model weights"), so Fit is a no-op and Save/Load
// persist only the configured dimension: the model weights themselves
// live outside this process's persistence surface.
type DenseProvider struct {
	dim int
	fn  DenseFunc
}

// NewDense wraps fn, an externally-provided embedding function, reporting
// dimension dim. If fn is nil, every Embed call falls through to the
// deterministic hash-derived fallback — useful for tests and for
// collections configured with a dense provider before a real model is
// wired in.
func NewDense(dim int, fn DenseFunc) *DenseProvider {
	return &DenseProvider{dim: dim, fn: fn}
}

func (p *DenseProvider) Dimensions() int { return p.dim }

func (p *DenseProvider) Fit(_ []string) error { return nil }

func (p *DenseProvider) Embed(text string) ([]float32, error) {
	if p.fn == nil {
		return fallbackEmbed(text, p.dim), nil
	}
	v, err := p.fn(text)
	if err != nil {
		return nil, newProviderError("embedding.dense.embed", err)
	}
	if len(v) != p.dim || isZero(v) {
		return fallbackEmbed(text, p.dim), nil
	}
	return l2Normalize(v), nil
}

type denseSnapshot struct {
	Dim int
}

func (p *DenseProvider) Save(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(denseSnapshot{Dim: p.dim}); err != nil {
		return newProviderError("embedding.dense.save", err)
	}
	return nil
}

func (p *DenseProvider) Load(r io.Reader) error {
	var snap denseSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return newProviderError("embedding.dense.load", err)
	}
	p.dim = snap.Dim
	return nil
}
