package evo

import (
	"encoding/binary"
	"fmt"
	"math"

	"evonet/internal/cluster"
)

// Shard fitness frame: int32 start, int32 count, count float64 values.

func encodeShardFitness(shard cluster.Shard, individuals []*Individual) []byte {
	buf := make([]byte, 8+shard.Len()*8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(shard.Start)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(shard.Len())))
	for i := shard.Start; i <= shard.End; i++ {
		off := 8 + (i-shard.Start)*8
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(individuals[i].fitness))
	}
	return buf
}

func decodeShardFitness(data []byte, want cluster.Shard) ([]float64, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: fitness frame of %d bytes", cluster.ErrProtocol, len(data))
	}
	start := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	count := int(int32(binary.LittleEndian.Uint32(data[4:8])))
	if start != want.Start || count != want.Len() {
		return nil, fmt.Errorf("%w: rank %d sent fitness for [%d,+%d), partition assigns [%d,%d]",
			cluster.ErrProtocol, want.Rank, start, count, want.Start, want.End)
	}
	if len(data) != 8+count*8 {
		return nil, fmt.Errorf("%w: fitness frame of %d bytes for %d values", cluster.ErrProtocol, len(data), count)
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8+i*8:]))
	}
	return values, nil
}
