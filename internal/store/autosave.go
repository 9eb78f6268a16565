package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartAutoSave launches the background auto-save loop (spec §4.8
// auto_save_loop): a periodic sweep that snapshots each dirty collection
// whose own persistence.auto_save_interval_s has elapsed since its last
// save. An interval of 0 disables auto-save for that collection (spec
// §6.3). Grounded on contextd's internal/vectorstore/health.go background
// monitor goroutine shape (ctx-cancelled loop, ticker, done channel for
// clean shutdown).
//
// Calling StartAutoSave again while a loop is already running is a no-op;
// call Close to stop the current loop first.
func (s *Store) StartAutoSave(ctx context.Context) {
	s.mu.Lock()
	if s.stopAutoSave != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopAutoSave = cancel
	s.autoSaveDone = done
	interval := s.autoSaveInterval
	s.mu.Unlock()

	lastSave := make(map[string]time.Time)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.autoSaveSweep(lastSave)
			}
		}
	}()
}

func (s *Store) autoSaveSweep(lastSave map[string]time.Time) {
	s.mu.RLock()
	type item struct {
		name string
		dir  string
	}
	items := make([]item, 0, len(s.collections))
	for name := range s.collections {
		items = append(items, item{name: name, dir: s.collectionDir(name)})
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, it := range items {
		s.mu.RLock()
		col, exists := s.collections[it.name]
		s.mu.RUnlock()
		if !exists || !col.Dirty() {
			continue
		}
		cfg := col.Config()
		if cfg.AutoSaveIntervalS <= 0 {
			continue
		}
		due := time.Duration(cfg.AutoSaveIntervalS) * time.Second
		if last, ok := lastSave[it.name]; ok && now.Sub(last) < due {
			continue
		}
		if err := col.Snapshot(it.dir); err != nil {
			s.logger.Warn("auto-save failed", zap.String("collection", it.name), zap.Error(err))
			continue
		}
		lastSave[it.name] = now
		s.logger.Debug("auto-save snapshot", zap.String("collection", it.name))
	}
}
