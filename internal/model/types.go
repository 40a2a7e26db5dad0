package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusInterrupted = "interrupted"
	RunStatusFailed      = "failed"
)

// Run describes one invocation of the evolution loop as seen by rank 0.
type Run struct {
	VersionedRecord
	ID              string    `json:"id"`
	Scape           string    `json:"scape"`
	PopulationSize  int       `json:"population_size"`
	NumWeights      int       `json:"num_weights"`
	Ranks           int       `json:"ranks"`
	EliteFraction   float64   `json:"elite_fraction"`
	Seed            int64     `json:"seed"`
	CheckpointPath  string    `json:"checkpoint_path,omitempty"`
	StartGeneration int       `json:"start_generation"`
	FinalGeneration int       `json:"final_generation"`
	BestFitness     float64   `json:"best_fitness"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// LineageRecord mirrors how one slot of a generation was produced.
type LineageRecord struct {
	Slot      int    `json:"slot"`
	Operation string `json:"operation"`
	ParentA   int    `json:"parent_a"`
	ParentB   int    `json:"parent_b"`
}

type GenerationStats struct {
	VersionedRecord
	RunID       string          `json:"run_id"`
	Generation  int             `json:"generation"`
	BestFitness float64         `json:"best_fitness"`
	MeanFitness float64         `json:"mean_fitness"`
	MinFitness  float64         `json:"min_fitness"`
	EliteSize   int             `json:"elite_size"`
	Evaluations int             `json:"evaluations"`
	Duration    time.Duration   `json:"duration_ns"`
	CompletedAt time.Time       `json:"completed_at"`
	Lineage     []LineageRecord `json:"lineage,omitempty"`
}

type CheckpointEvent struct {
	VersionedRecord
	RunID      string    `json:"run_id"`
	Generation int       `json:"generation"`
	Path       string    `json:"path"`
	Bytes      int64     `json:"bytes"`
	SavedAt    time.Time `json:"saved_at"`
}
