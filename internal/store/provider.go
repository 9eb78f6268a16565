package store

import (
	"encoding/gob"

	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// ProviderKind names one of the §4.6 embedding provider variants. The
// store, not the collection package, owns the kind->instance mapping,
// since a restored provider must be reconstructed as the same concrete
// type it was created with and the collection package only depends on
// the embedding.Provider interface (spec §4.6 "Per-collection isolation").
type ProviderKind string

const (
	ProviderBagOfTokens ProviderKind = "bag_of_tokens"
	ProviderTFIDF       ProviderKind = "tfidf"
	ProviderBM25        ProviderKind = "bm25"
	ProviderSVD         ProviderKind = "svd"
	ProviderDense       ProviderKind = "dense"
)

// ProviderSpec records how to rebuild a collection's embedding provider
// on restore. Gob-encoded alongside embedding_state.bin as
// provider_spec.bin (spec §6.2's embedding_state.bin covers the learned
// state; this small sidecar covers the provider's shape, which the spec
// does not name a file for but which restore cannot proceed without).
type ProviderSpec struct {
	Kind ProviderKind

	TFIDFSublinearTF bool
	BM25K1, BM25B    float64

	// DenseFuncName looks up a function registered with the owning Store
	// via RegisterDenseFunc. If empty or unregistered after restore, the
	// dense provider falls through to the deterministic hash fallback
	// (still non-degenerate per spec §4.6) rather than failing restore.
	DenseFuncName string

	// SVD wraps an inner spec.
	SVDInner *ProviderSpec
	SVDSeed  int64
}

func init() {
	gob.Register(ProviderSpec{})
}

// buildProvider constructs a concrete embedding.Provider for spec, sized
// to dimension dim. denseFuncs resolves ProviderDense/SVD-over-dense
// DenseFuncName references; it may be nil.
func buildProvider(spec ProviderSpec, dim int, denseFuncs map[string]embedding.DenseFunc) (embedding.Provider, error) {
	const op = "store.build_provider"
	switch spec.Kind {
	case ProviderBagOfTokens:
		return embedding.NewBagOfTokens(), nil
	case ProviderTFIDF:
		return embedding.NewTFIDF(spec.TFIDFSublinearTF), nil
	case ProviderBM25:
		if spec.BM25K1 == 0 && spec.BM25B == 0 {
			return embedding.NewBM25(), nil
		}
		return embedding.NewBM25WithParams(spec.BM25K1, spec.BM25B), nil
	case ProviderDense:
		return embedding.NewDense(dim, denseFuncs[spec.DenseFuncName]), nil
	case ProviderSVD:
		if spec.SVDInner == nil {
			return nil, vectorerr.New(vectorerr.InvalidConfig, op, nil)
		}
		inner, err := buildProvider(*spec.SVDInner, dim, denseFuncs)
		if err != nil {
			return nil, err
		}
		return embedding.NewSVD(inner, dim, spec.SVDSeed), nil
	default:
		return nil, vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
}
