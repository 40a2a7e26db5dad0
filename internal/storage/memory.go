package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"evonet/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.Run
	generations map[string][]model.GenerationStats
	checkpoints map[string][]model.CheckpointEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	s.initialized = true
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.runs = make(map[string]model.Run)
	s.generations = make(map[string][]model.GenerationStats)
	s.checkpoints = make(map[string][]model.CheckpointEvent)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Run{}, false, errNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	runs := make([]model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// AppendGeneration replaces an existing entry for the same generation.
func (s *MemoryStore) AppendGeneration(_ context.Context, stats model.GenerationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	stats.Lineage = append([]model.LineageRecord(nil), stats.Lineage...)
	list := s.generations[stats.RunID]
	for i := range list {
		if list[i].Generation == stats.Generation {
			list[i] = stats
			return nil
		}
	}
	list = append(list, stats)
	sort.Slice(list, func(i, j int) bool { return list[i].Generation < list[j].Generation })
	s.generations[stats.RunID] = list
	return nil
}

func (s *MemoryStore) GetGenerations(_ context.Context, runID string) ([]model.GenerationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	list := s.generations[runID]
	out := make([]model.GenerationStats, len(list))
	for i, stats := range list {
		stats.Lineage = append([]model.LineageRecord(nil), stats.Lineage...)
		out[i] = stats
	}
	return out, nil
}

func (s *MemoryStore) AppendCheckpoint(_ context.Context, event model.CheckpointEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	list := s.checkpoints[event.RunID]
	for i := range list {
		if list[i].Generation == event.Generation {
			list[i] = event
			return nil
		}
	}
	list = append(list, event)
	sort.Slice(list, func(i, j int) bool { return list[i].Generation < list[j].Generation })
	s.checkpoints[event.RunID] = list
	return nil
}

func (s *MemoryStore) GetCheckpoints(_ context.Context, runID string) ([]model.CheckpointEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	return append([]model.CheckpointEvent(nil), s.checkpoints[runID]...), nil
}
