package storage

import (
	"context"

	"evonet/internal/model"
)

// Store is the run ledger: runs, per-generation statistics and checkpoint
// events keyed by run ID.
type Store interface {
	Init(ctx context.Context) error
	// Reset drops every stored record.
	Reset(ctx context.Context) error
	SaveRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, bool, error)
	// ListRuns returns runs ordered by start time, oldest first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	AppendGeneration(ctx context.Context, stats model.GenerationStats) error
	GetGenerations(ctx context.Context, runID string) ([]model.GenerationStats, error)
	AppendCheckpoint(ctx context.Context, event model.CheckpointEvent) error
	GetCheckpoints(ctx context.Context, runID string) ([]model.CheckpointEvent, error)
}
