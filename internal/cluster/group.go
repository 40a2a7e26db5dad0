// Package cluster provides the process-group primitives the evolution engine
// coordinates through: index partitioning, barriers and root broadcasts.
//
// Two groups are available. LocalGroups runs every rank as a goroutine of the
// current process; Coordinator and Dial connect separate processes over a
// websocket star rooted at rank 0. Both copy payloads on delivery, so ranks
// never share memory through the group.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

// ErrProtocol marks a collective that ranks disagree on.
var ErrProtocol = errors.New("cluster protocol violation")

// Group is a fixed set of cooperating ranks. Every rank must call the
// collectives in the same order.
type Group interface {
	Rank() int
	Size() int
	// Barrier returns once every rank has entered it.
	Barrier(ctx context.Context) error
	// Broadcast delivers the root's payload to every rank. Non-root ranks pass
	// nil and receive the root's bytes.
	Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error)
}

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func checkRoot(root, size int) error {
	if root < 0 || root >= size {
		return fmt.Errorf("broadcast root %d outside group of %d", root, size)
	}
	return nil
}
