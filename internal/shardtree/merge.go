package shardtree

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shard"
)

// MergeThresholdRatio is the fraction of target_max below which a leaf is
// undersized (spec §4.4 background merge). mergeSweepOnce pairs any two
// undersized Live leaves, not only neighbours in the leaf list, whose
// combined size is at most target_max.
const MergeThresholdRatio = 0.2

// RunBackgroundMerge runs the periodic merge sweep until ctx is
// cancelled. Each tick looks for the first pair of undersized Live leaves
// and attempts to merge them; at most one merge is attempted per tick.
func (t *Tree) RunBackgroundMerge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mergeSweepOnce()
		}
	}
}

// mergeSweepOnce attempts at most one merge of two undersized leaves.
func (t *Tree) mergeSweepOnce() {
	threshold := int(float64(t.cfg.TargetMax) * MergeThresholdRatio)
	leaves := t.Leaves()
	if len(leaves) < 2 {
		return
	}

	for i := 0; i < len(leaves); i++ {
		a := leaves[i]
		if a.Size() >= threshold || a.State() != shard.StateLive {
			continue
		}
		for j := i + 1; j < len(leaves); j++ {
			b := leaves[j]
			if b.Size() >= threshold || b.State() != shard.StateLive {
				continue
			}
			if a.Size()+b.Size() > t.cfg.TargetMax {
				continue // merge would exceed target_max: spec's MergeWouldExceedLimit case, skip this pair
			}
			t.tryMerge(a, b)
			return
		}
	}
}

// tryMerge merges a and b into one new shard using try-lock semantics: if
// either participant has moved on (no longer Live) by the time the lock
// is acquired, the merge is abandoned without side effects.
func (t *Tree) tryMerge(a, b *shard.Shard) {
	_, span := tracer.Start(context.Background(), "shardtree.merge",
		trace.WithAttributes(attribute.String("shard.a", a.ID), attribute.String("shard.b", b.ID)))
	defer span.End()

	if !t.split.TryLock() {
		return
	}
	defer t.split.Unlock()

	if a.State() != shard.StateLive || b.State() != shard.StateLive {
		return
	}
	a.SetState(shard.StateMergingParticipant)
	b.SetState(shard.StateMergingParticipant)

	if t.onMergeJournal != nil {
		t.onMergeJournal([]string{a.ID, b.ID})
	}

	merged, err := t.cfg.NewShard(a.ID + "+" + b.ID)
	if err != nil {
		a.SetState(shard.StateLive)
		b.SetState(shard.StateLive)
		return
	}

	var iterErr error
	copyInto := func(s *shard.Shard) {
		s.Iter(func(v *record.Vector) bool {
			if err := merged.Insert(v); err != nil {
				iterErr = err
				return false
			}
			return true
		})
	}
	copyInto(a)
	if iterErr == nil {
		copyInto(b)
	}
	if iterErr != nil {
		_ = merged.Close()
		a.SetState(shard.StateLive)
		b.SetState(shard.StateLive)
		return
	}

	t.mu.Lock()
	var rebuilt []*shard.Shard
	replaced := false
	for _, leaf := range t.leaves {
		if leaf == a || leaf == b {
			if !replaced {
				rebuilt = append(rebuilt, merged)
				replaced = true
			}
			continue
		}
		rebuilt = append(rebuilt, leaf)
	}
	t.leaves = rebuilt
	t.mu.Unlock()

	a.SetState(shard.StateRetired)
	b.SetState(shard.StateRetired)
	if t.onMergeCommit != nil {
		t.onMergeCommit([]string{a.ID, b.ID}, merged.ID)
	}
}
