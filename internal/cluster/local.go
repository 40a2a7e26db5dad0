package cluster

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// LocalGroups returns size in-process ranks sharing one hub. Each rank must be
// driven by its own goroutine.
func LocalGroups(size int) ([]Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be >= 1, got %d", size)
	}
	hub := &localHub{
		size:    size,
		release: make(chan struct{}),
		slots:   make(map[uint64]*broadcastSlot),
	}
	groups := make([]Group, size)
	for r := range groups {
		groups[r] = &localRank{hub: hub, rank: r}
	}
	return groups, nil
}

type localHub struct {
	size int

	mu      sync.Mutex
	arrived int
	release chan struct{}
	slots   map[uint64]*broadcastSlot
}

type broadcastSlot struct {
	root    int
	ready   chan struct{}
	payload []byte
	pending int
}

type localRank struct {
	hub  *localHub
	rank int
	seq  uint64
}

func (l *localRank) Rank() int { return l.rank }
func (l *localRank) Size() int { return l.hub.size }

func (l *localRank) Barrier(ctx context.Context) error {
	h := l.hub
	h.mu.Lock()
	ch := h.release
	h.arrived++
	if h.arrived == h.size {
		h.arrived = 0
		h.release = make(chan struct{})
		close(ch)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.release != ch {
		// released while cancelling
		return nil
	}
	h.arrived--
	return ctx.Err()
}

func (l *localRank) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if err := checkRoot(root, l.hub.size); err != nil {
		return nil, err
	}
	seq := l.seq
	l.seq++

	h := l.hub
	h.mu.Lock()
	slot, ok := h.slots[seq]
	if !ok {
		slot = &broadcastSlot{root: root, ready: make(chan struct{}), pending: h.size}
		h.slots[seq] = slot
	}
	if slot.root != root {
		h.mu.Unlock()
		return nil, protocolErrorf("broadcast %d: rank %d expects root %d, group uses root %d", seq, l.rank, root, slot.root)
	}
	if l.rank == root {
		slot.payload = bytes.Clone(payload)
		close(slot.ready)
	}
	h.mu.Unlock()

	select {
	case <-slot.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	out := bytes.Clone(slot.payload)
	slot.pending--
	if slot.pending == 0 {
		delete(h.slots, seq)
	}
	h.mu.Unlock()
	return out, nil
}
