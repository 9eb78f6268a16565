package shardtree

import (
	"context"
	"hash/fnv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shard"
)

// trySplit drives one leaf through the split protocol in spec §4.4:
// split_start journal entry, build the two (or more) new shards from the
// source's contents, atomic pointer-swap into the leaf list, split_commit
// journal entry, retire the source. Any error aborts the split and leaves
// the source Live — a soft-limit crossing that fails to split is retried
// on the next insert that crosses it again.
func (t *Tree) trySplit(source *shard.Shard) {
	_, span := tracer.Start(context.Background(), "shardtree.split", trace.WithAttributes(attribute.String("shard.id", source.ID)))
	defer span.End()

	if !t.split.TryLock() {
		return // another split is already in flight; spec requires at most one split in flight per tree
	}
	defer t.split.Unlock()

	if source.State() != shard.StateLive {
		return
	}
	source.SetState(shard.StateSplittingSource)

	size := source.Size()
	if t.onSplitJournal != nil {
		t.onSplitJournal(source.ID, size, t.cfg.SplitStrategy)
	}

	childA, childB, err := t.buildChildren(source)
	if err != nil {
		source.SetState(shard.StateLive)
		return
	}

	t.mu.Lock()
	for i, leaf := range t.leaves {
		if leaf == source {
			t.leaves[i] = childA
			t.leaves = append(t.leaves, childB)
			break
		}
	}
	t.mu.Unlock()

	source.SetState(shard.StateRetired)
	if t.onSplitCommit != nil {
		t.onSplitCommit(source.ID, []string{childA.ID, childB.ID})
	}
}

// buildChildren partitions source's contents into two new shards using
// the tree's configured split strategy (spec §4.4: "hash (deterministic,
// cheap) or two_means (one Lloyd iteration over a sample, better balance
// on skewed data); two_means falls back to hash on convergence failure").
func (t *Tree) buildChildren(source *shard.Shard) (*shard.Shard, *shard.Shard, error) {
	childA, err := t.cfg.NewShard(source.ID + "-a")
	if err != nil {
		return nil, nil, err
	}
	childB, err := t.cfg.NewShard(source.ID + "-b")
	if err != nil {
		return nil, nil, err
	}

	assign := t.partitionFunc(source)

	var iterErr error
	source.Iter(func(v *record.Vector) bool {
		dest := childA
		if assign(v) {
			dest = childB
		}
		if err := dest.Insert(v); err != nil {
			iterErr = err
			return false
		}
		return true
	})
	if iterErr != nil {
		_ = childA.Close()
		_ = childB.Close()
		return nil, nil, iterErr
	}
	return childA, childB, nil
}

// partitionFunc returns a predicate that is true for vectors assigned to
// the "B" child.
func (t *Tree) partitionFunc(source *shard.Shard) func(*record.Vector) bool {
	switch t.cfg.SplitStrategy {
	case SplitTwoMeans:
		if fn, ok := t.twoMeansPartition(source); ok {
			return fn
		}
		fallthrough // convergence failure: fall back to hash per spec §4.4
	default:
		return hashPartition
	}
}

func hashPartition(v *record.Vector) bool {
	h := fnv.New32a()
	h.Write([]byte(v.ID))
	return h.Sum32()%2 == 1
}

// twoMeansPartition runs one Lloyd iteration of 2-means over a sample of
// source's vectors and returns a nearest-centroid assignment. It reports
// ok=false if the sample has fewer than 2 vectors, if the two seeds (the
// first and last sampled vectors) are equal, if either cluster is empty
// after the iteration, or if the smaller cluster holds under 40% of the
// sample; the caller then falls back to hash partitioning.
func (t *Tree) twoMeansPartition(source *shard.Shard) (func(*record.Vector) bool, bool) {
	const sampleCap = 2000
	var sample []*record.Vector
	source.Iter(func(v *record.Vector) bool {
		sample = append(sample, v.Clone())
		return len(sample) < sampleCap
	})
	if len(sample) < 2 {
		return nil, false
	}

	centroidA := append([]float32(nil), sample[0].Dense...)
	centroidB := append([]float32(nil), sample[len(sample)-1].Dense...)
	if vectorsEqual(centroidA, centroidB) {
		return nil, false
	}

	assignB := make(map[string]bool, len(sample))
	for _, v := range sample {
		assignB[v.ID] = sqDist(v.Dense, centroidB) < sqDist(v.Dense, centroidA)
	}

	var sumA, sumB []float32
	var countA, countB int
	for _, v := range sample {
		if assignB[v.ID] {
			sumB = accumulate(sumB, v.Dense)
			countB++
		} else {
			sumA = accumulate(sumA, v.Dense)
			countA++
		}
	}
	if countA == 0 || countB == 0 {
		return nil, false
	}
	// spec §4.4: a partition whose smaller side is under 40% of the
	// sample is too skewed to be worth the locality gain; fall back to
	// hash-based splitting instead.
	const minShare = 0.4
	total := float64(countA + countB)
	if float64(countA)/total < minShare || float64(countB)/total < minShare {
		return nil, false
	}
	finalCentroidA := scaleBy(sumA, 1.0/float32(countA))
	finalCentroidB := scaleBy(sumB, 1.0/float32(countB))

	return func(v *record.Vector) bool {
		return sqDist(v.Dense, finalCentroidB) < sqDist(v.Dense, finalCentroidA)
	}, true
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func accumulate(dst, src []float32) []float32 {
	if dst == nil {
		dst = make([]float32, len(src))
	}
	for i := range src {
		dst[i] += src[i]
	}
	return dst
}

func scaleBy(v []float32, f float32) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
