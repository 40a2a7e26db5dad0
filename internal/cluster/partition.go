package cluster

import "fmt"

// Shard is the inclusive index range [Start, End] a rank evaluates.
type Shard struct {
	Rank  int
	Start int
	End   int
}

func (s Shard) Len() int {
	return s.End - s.Start + 1
}

func (s Shard) Contains(i int) bool {
	return i >= s.Start && i <= s.End
}

// Partition splits [0, population) into ranks contiguous shards. Every rank
// gets population/ranks indices and the last rank also takes the remainder.
func Partition(population, ranks int) ([]Shard, error) {
	if ranks < 1 {
		return nil, fmt.Errorf("rank count must be >= 1, got %d", ranks)
	}
	if population < ranks {
		return nil, fmt.Errorf("population %d smaller than rank count %d", population, ranks)
	}
	chunk := population / ranks
	shards := make([]Shard, ranks)
	for r := range shards {
		start := r * chunk
		end := start + chunk - 1
		if r == ranks-1 {
			end = population - 1
		}
		shards[r] = Shard{Rank: r, Start: start, End: end}
	}
	return shards, nil
}

// ShardFor returns the shard of one rank.
func ShardFor(population, ranks, rank int) (Shard, error) {
	if rank < 0 || rank >= ranks {
		return Shard{}, fmt.Errorf("rank %d outside group of %d", rank, ranks)
	}
	shards, err := Partition(population, ranks)
	if err != nil {
		return Shard{}, err
	}
	return shards[rank], nil
}
