package shardtree

import (
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shard"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// shardingEnabled reports whether the tree is currently allowed to split
// past its single initial leaf.
func (t *Tree) shardingEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.TargetMax > 0 && t.cfg.shardingOn
}

// EnableSharding turns on auto-split for a collection that previously ran
// with a single unbounded leaf (spec §4.4 "Migration": "sharding can be
// turned on for an existing unsharded collection without blocking
// reads/writes"). No data moves; the existing single leaf simply becomes
// eligible for the ordinary soft-limit split path on its next insert.
func (t *Tree) EnableSharding() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.shardingOn = true
}

// DisableSharding collapses every leaf back into a single shard built
// with newShard, draining each leaf's live vectors into it in leaf order.
// The tree is locked for the duration: spec §4.4 treats this as a rare
// administrative operation, not a hot path, so serializing writes behind
// it is acceptable.
func (t *Tree) DisableSharding(newShard func(id string) (*shard.Shard, error)) error {
	t.split.Lock()
	defer t.split.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cfg.shardingOn = false
	if len(t.leaves) == 1 {
		return nil
	}

	merged, err := newShard("merged")
	if err != nil {
		return vectorerr.New(vectorerr.IoError, "shardtree.disable_sharding", err)
	}
	var iterErr error
	for _, leaf := range t.leaves {
		leaf.Iter(func(v *record.Vector) bool {
			if err := merged.Insert(v); err != nil {
				iterErr = err
				return false
			}
			return true
		})
		if iterErr != nil {
			break
		}
	}
	if iterErr != nil {
		_ = merged.Close()
		return iterErr
	}
	for _, leaf := range t.leaves {
		leaf.SetState(shard.StateRetired)
	}
	t.leaves = []*shard.Shard{merged}
	return nil
}
