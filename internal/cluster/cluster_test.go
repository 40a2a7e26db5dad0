package cluster

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPartitionTenByThree(t *testing.T) {
	shards, err := Partition(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []Shard{
		{Rank: 0, Start: 0, End: 2},
		{Rank: 1, Start: 3, End: 5},
		{Rank: 2, Start: 6, End: 9},
	}, shards)
	assert.Equal(t, []int{3, 3, 4}, []int{shards[0].Len(), shards[1].Len(), shards[2].Len()})
}

func TestPartitionCoversEveryIndexOnce(t *testing.T) {
	for population := 1; population <= 64; population++ {
		for ranks := 1; ranks <= population; ranks++ {
			shards, err := Partition(population, ranks)
			require.NoError(t, err)

			owners := make([]int, population)
			for _, s := range shards {
				for i := s.Start; i <= s.End; i++ {
					owners[i]++
				}
			}
			for i, n := range owners {
				require.Equalf(t, 1, n, "P=%d N=%d index %d owned %d times", population, ranks, i, n)
			}
			require.Equal(t, population-1, shards[ranks-1].End)
		}
	}
}

func TestPartitionRejectsInvalidShapes(t *testing.T) {
	_, err := Partition(10, 0)
	assert.Error(t, err)
	_, err = Partition(2, 3)
	assert.Error(t, err)
	_, err = ShardFor(10, 3, 3)
	assert.Error(t, err)

	s, err := ShardFor(10, 3, 2)
	require.NoError(t, err)
	assert.True(t, s.Contains(9))
	assert.False(t, s.Contains(5))
}

// exercise runs a barrier, a broadcast from every root and another barrier on
// each rank and returns what every rank received.
func exercise(ctx context.Context, groups []Group) ([][]string, error) {
	received := make([][]string, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			if err := grp.Barrier(ctx); err != nil {
				return err
			}
			for root := 0; root < grp.Size(); root++ {
				var payload []byte
				if grp.Rank() == root {
					payload = []byte(fmt.Sprintf("from-%d", root))
				}
				out, err := grp.Broadcast(ctx, root, payload)
				if err != nil {
					return err
				}
				received[grp.Rank()] = append(received[grp.Rank()], string(out))
			}
			return grp.Barrier(ctx)
		})
	}
	return received, g.Wait()
}

func TestLocalGroupsBarrierAndBroadcast(t *testing.T) {
	groups, err := LocalGroups(4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	received, err := exercise(ctx, groups)
	require.NoError(t, err)

	want := []string{"from-0", "from-1", "from-2", "from-3"}
	for rank, got := range received {
		assert.Equalf(t, want, got, "rank %d", rank)
	}
}

func TestLocalBroadcastCopiesPayload(t *testing.T) {
	groups, err := LocalGroups(2)
	require.NoError(t, err)

	payload := []byte{1, 2, 3}
	var got []byte
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		_, err := groups[0].Broadcast(ctx, 0, payload)
		return err
	})
	g.Go(func() error {
		out, err := groups[1].Broadcast(ctx, 0, nil)
		got = out
		return err
	})
	require.NoError(t, g.Wait())

	payload[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestLocalBroadcastRootDisagreement(t *testing.T) {
	groups, err := LocalGroups(2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() {
		_, err := groups[0].Broadcast(ctx, 0, []byte("x"))
		errs <- err
	}()
	go func() {
		_, err := groups[1].Broadcast(ctx, 1, []byte("y"))
		errs <- err
	}()

	var protocolErrors int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			require.ErrorIs(t, err, ErrProtocol)
			protocolErrors++
		}
	}
	assert.Equal(t, 1, protocolErrors)
}

func TestLocalBarrierHonoursContext(t *testing.T) {
	groups, err := LocalGroups(2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, groups[0].Barrier(ctx), context.DeadlineExceeded)
}

func TestLocalBarrierWithdrawsCancelledRank(t *testing.T) {
	groups, err := LocalGroups(3)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, groups[0].Barrier(ctx), context.DeadlineExceeded)

	// Two of three ranks must not complete the barrier.
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	errs := make(chan error, 2)
	for _, grp := range groups[1:] {
		grp := grp
		go func() { errs <- grp.Barrier(short) }()
	}
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, context.DeadlineExceeded)
	}

	full, cancelFull := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFull()
	g, gctx := errgroup.WithContext(full)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error { return grp.Barrier(gctx) })
	}
	require.NoError(t, g.Wait())
}

func TestWebsocketGroup(t *testing.T) {
	const size = 3
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coord, err := NewCoordinator("127.0.0.1:0", size, 0, nil)
	require.NoError(t, err)
	defer coord.Close()

	groups := []Group{coord}
	for rank := 1; rank < size; rank++ {
		peer, err := Dial(ctx, coord.Addr(), rank, size, 0, nil)
		require.NoError(t, err)
		defer peer.Close()
		groups = append(groups, peer)
	}
	require.NoError(t, coord.Wait(ctx))

	received, err := exercise(ctx, groups)
	require.NoError(t, err)
	want := []string{"from-0", "from-1", "from-2"}
	for rank, got := range received {
		assert.Equalf(t, want, got, "rank %d", rank)
	}
}

func TestWebsocketRejectsDuplicateRank(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	coord, err := NewCoordinator("127.0.0.1:0", 3, 0, nil)
	require.NoError(t, err)
	defer coord.Close()

	first, err := Dial(ctx, coord.Addr(), 1, 3, 0, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = Dial(ctx, coord.Addr(), 1, 3, 0, nil)
	require.Error(t, err)

	_, err = Dial(ctx, coord.Addr(), 2, 4, 0, nil)
	require.Error(t, err)
}

func TestFrameLimit(t *testing.T) {
	assert.Equal(t, websocket.DefaultMaxPayloadBytes, FrameLimit(10))
	// 8 + 100·9·30000 bytes of population
	assert.Greater(t, FrameLimit(27_000_008), 36_000_000)
}

func TestWebsocketBroadcastsPayloadAboveDefaultLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	payload := make([]byte, 8+100*9*30000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	limit := FrameLimit(int64(len(payload)))
	require.Greater(t, limit, websocket.DefaultMaxPayloadBytes)

	coord, err := NewCoordinator("127.0.0.1:0", 2, limit, nil)
	require.NoError(t, err)
	defer coord.Close()
	peer, err := Dial(ctx, coord.Addr(), 1, 2, limit, nil)
	require.NoError(t, err)
	defer peer.Close()
	require.NoError(t, coord.Wait(ctx))

	var got []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := coord.Broadcast(gctx, 0, payload)
		return err
	})
	g.Go(func() error {
		out, err := peer.Broadcast(gctx, 0, nil)
		got = out
		return err
	})
	require.NoError(t, g.Wait())
	assert.True(t, bytes.Equal(payload, got), "payload corrupted in transit")
}

func TestWebsocketBroadcastToStalledPeerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coord, err := NewCoordinator("127.0.0.1:0", 2, 0, nil)
	require.NoError(t, err)
	defer coord.Close()

	// A peer that joins and then never reads.
	cfg, err := websocket.NewConfig("ws://"+coord.Addr()+groupPath, "http://"+coord.Addr()+"/")
	require.NoError(t, err)
	conn, err := cfg.DialContext(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, websocket.JSON.Send(conn, frame{Type: frameHello, Rank: 1, Size: 2}))
	var reply frame
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	require.Equal(t, frameWelcome, reply.Type)
	require.NoError(t, coord.Wait(ctx))

	bctx, bcancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer bcancel()
	start := time.Now()
	_, err = coord.Broadcast(bctx, 0, make([]byte, 24<<20))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
