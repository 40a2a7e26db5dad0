package storage

import (
	"encoding/json"
	"errors"

	"evonet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.Run) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.Run, error) {
	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return model.Run{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func EncodeGenerationStats(s model.GenerationStats) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeGenerationStats(data []byte) (model.GenerationStats, error) {
	var stats model.GenerationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.GenerationStats{}, err
	}
	if err := checkVersion(stats.VersionedRecord); err != nil {
		return model.GenerationStats{}, err
	}
	return stats, nil
}

func EncodeCheckpointEvent(e model.CheckpointEvent) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeCheckpointEvent(data []byte) (model.CheckpointEvent, error) {
	var event model.CheckpointEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return model.CheckpointEvent{}, err
	}
	if err := checkVersion(event.VersionedRecord); err != nil {
		return model.CheckpointEvent{}, err
	}
	return event, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
