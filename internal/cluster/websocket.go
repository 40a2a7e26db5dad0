package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const groupPath = "/group"

type frameType string

const (
	frameHello   frameType = "hello"
	frameWelcome frameType = "welcome"
	frameReject  frameType = "reject"
	frameBarrier frameType = "barrier"
	frameRelease frameType = "release"
	frameBcast   frameType = "bcast"
)

type frame struct {
	Type    frameType `json:"type"`
	Rank    int       `json:"rank"`
	Size    int       `json:"size,omitempty"`
	Seq     uint64    `json:"seq"`
	Root    int       `json:"root"`
	Payload []byte    `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// FrameLimit returns the receive limit for frames carrying payloads of up to
// payloadBytes, never less than the websocket package default.
func FrameLimit(payloadBytes int64) int {
	// base64 inside the JSON envelope, plus the other frame fields
	limit := 4*((payloadBytes+2)/3) + 1024
	if limit < websocket.DefaultMaxPayloadBytes {
		return websocket.DefaultMaxPayloadBytes
	}
	return int(limit)
}

// link is one websocket connection with a background reader feeding inbox.
type link struct {
	rank int
	conn *websocket.Conn

	writeMu   sync.Mutex
	inbox     chan frame
	closed    chan struct{}
	err       error
	closeOnce sync.Once
	closeErr  error
}

func newLink(rank int, conn *websocket.Conn) *link {
	return &link{
		rank:   rank,
		conn:   conn,
		inbox:  make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

// send writes one frame. The write is abandoned when ctx ends.
func (l *link) send(ctx context.Context, f frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s to rank %d: %w", f.Type, l.rank, err)
	}
	deadline, _ := ctx.Deadline()
	_ = l.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := websocket.JSON.Send(l.conn, f); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send %s to rank %d: %w", f.Type, l.rank, ctxErr)
		}
		return fmt.Errorf("send %s to rank %d: %w", f.Type, l.rank, err)
	}
	return nil
}

func (l *link) close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// readLoop runs until the connection fails or stop is closed.
func (l *link) readLoop(stop <-chan struct{}) {
	defer close(l.closed)
	for {
		var f frame
		if err := websocket.JSON.Receive(l.conn, &f); err != nil {
			l.err = err
			// unblocks a remote writer still sending to us
			_ = l.close()
			return
		}
		select {
		case l.inbox <- f:
		case <-stop:
			l.err = errors.New("link stopped")
			return
		}
	}
}

func (l *link) recv(ctx context.Context) (frame, error) {
	select {
	case f := <-l.inbox:
		return f, nil
	default:
	}
	select {
	case f := <-l.inbox:
		return f, nil
	case <-l.closed:
		return frame{}, fmt.Errorf("rank %d disconnected: %w", l.rank, l.err)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (l *link) expect(ctx context.Context, typ frameType, seq uint64, root int) (frame, error) {
	f, err := l.recv(ctx)
	if err != nil {
		return frame{}, err
	}
	if f.Type != typ || f.Seq != seq {
		return frame{}, protocolErrorf("rank %d sent %s#%d, expected %s#%d", l.rank, f.Type, f.Seq, typ, seq)
	}
	if typ == frameBcast && f.Root != root {
		return frame{}, protocolErrorf("rank %d broadcast %d uses root %d, expected %d", l.rank, seq, f.Root, root)
	}
	return f, nil
}

// Coordinator is rank 0 of a websocket group. Ranks 1..size-1 join with Dial.
type Coordinator struct {
	size       int
	maxPayload int
	logger     *zap.Logger
	listener   net.Listener
	server     *http.Server

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	peers    []*link
	joined   int
	stopped  bool
	ready    chan struct{}
	stop     chan struct{}
	handlers sync.WaitGroup

	seq uint64
}

// NewCoordinator listens on addr and accepts size-1 peers in the background.
// maxPayload bounds received frames; see FrameLimit. Zero keeps the websocket
// default.
func NewCoordinator(addr string, size, maxPayload int, logger *zap.Logger) (*Coordinator, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be >= 1, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	c := &Coordinator{
		size:       size,
		maxPayload: maxPayload,
		logger:     logger.Named("cluster").With(zap.Int("rank", 0)),
		listener:   ln,
		conns:      make(map[*websocket.Conn]struct{}),
		peers:      make([]*link, size),
		ready:      make(chan struct{}),
		stop:       make(chan struct{}),
	}
	if size == 1 {
		close(c.ready)
	}

	mux := http.NewServeMux()
	mux.Handle(groupPath, websocket.Server{Handler: c.handle})
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("group server stopped", zap.Error(err))
		}
	}()
	c.logger.Info("coordinator listening", zap.String("addr", ln.Addr().String()), zap.Int("size", size))
	return c, nil
}

// Addr is the bound listen address.
func (c *Coordinator) Addr() string {
	return c.listener.Addr().String()
}

func (c *Coordinator) Rank() int { return 0 }
func (c *Coordinator) Size() int { return c.size }

func (c *Coordinator) handle(ws *websocket.Conn) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.handlers.Add(1)
	c.conns[ws] = struct{}{}
	c.mu.Unlock()
	defer c.handlers.Done()
	defer ws.Close()
	ws.MaxPayloadBytes = c.maxPayload

	var hello frame
	if err := websocket.JSON.Receive(ws, &hello); err != nil {
		c.logger.Warn("handshake failed", zap.Error(err))
		return
	}
	l, err := c.register(hello, ws)
	if err != nil {
		c.logger.Warn("peer rejected", zap.Int("peer", hello.Rank), zap.Error(err))
		_ = websocket.JSON.Send(ws, frame{Type: frameReject, Error: err.Error()})
		return
	}
	if err := l.send(context.Background(), frame{Type: frameWelcome, Rank: hello.Rank, Size: c.size}); err != nil {
		c.logger.Warn("welcome failed", zap.Int("peer", hello.Rank), zap.Error(err))
	}
	c.logger.Info("peer joined", zap.Int("peer", hello.Rank))
	l.readLoop(c.stop)
}

func (c *Coordinator) register(hello frame, ws *websocket.Conn) (*link, error) {
	if hello.Type != frameHello {
		return nil, fmt.Errorf("expected hello, got %s", hello.Type)
	}
	if hello.Size != c.size {
		return nil, fmt.Errorf("peer expects group size %d, coordinator has %d", hello.Size, c.size)
	}
	if hello.Rank < 1 || hello.Rank >= c.size {
		return nil, fmt.Errorf("rank %d outside [1,%d)", hello.Rank, c.size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers[hello.Rank] != nil {
		return nil, fmt.Errorf("rank %d already joined", hello.Rank)
	}
	l := newLink(hello.Rank, ws)
	c.peers[hello.Rank] = l
	c.joined++
	if c.joined == c.size-1 {
		close(c.ready)
	}
	return l, nil
}

// Wait blocks until every peer has joined.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) Barrier(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	seq := c.seq
	c.seq++
	for _, p := range c.peers[1:] {
		if _, err := p.expect(ctx, frameBarrier, seq, 0); err != nil {
			return err
		}
	}
	for _, p := range c.peers[1:] {
		if err := p.send(ctx, frame{Type: frameRelease, Seq: seq}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if err := checkRoot(root, c.size); err != nil {
		return nil, err
	}
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}
	seq := c.seq
	c.seq++

	data := payload
	if root != 0 {
		f, err := c.peers[root].expect(ctx, frameBcast, seq, root)
		if err != nil {
			return nil, err
		}
		data = f.Payload
	}
	out := frame{Type: frameBcast, Seq: seq, Root: root, Payload: data}
	for r, p := range c.peers {
		if r == 0 || r == root {
			continue
		}
		if err := p.send(ctx, out); err != nil {
			return nil, err
		}
	}
	return bytes.Clone(data), nil
}

// Close stops the listener and drops every peer connection.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stop)
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mu.Unlock()

	err := c.server.Close()
	c.handlers.Wait()
	return err
}

// Peer is a non-zero rank connected to a Coordinator.
type Peer struct {
	rank   int
	size   int
	link   *link
	stop   chan struct{}
	logger *zap.Logger

	seq uint64
}

// Dial joins the coordinator at addr as rank, retrying until ctx ends.
// maxPayload bounds received frames as in NewCoordinator.
func Dial(ctx context.Context, addr string, rank, size, maxPayload int, logger *zap.Logger) (*Peer, error) {
	if rank < 1 || rank >= size {
		return nil, fmt.Errorf("peer rank %d outside [1,%d)", rank, size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cluster").With(zap.Int("rank", rank))

	cfg, err := websocket.NewConfig("ws://"+addr+groupPath, "http://"+addr+"/")
	if err != nil {
		return nil, err
	}

	backoff := 50 * time.Millisecond
	var conn *websocket.Conn
	for {
		conn, err = cfg.DialContext(ctx)
		if err == nil {
			break
		}
		logger.Debug("coordinator not reachable yet", zap.String("addr", addr), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}

	conn.MaxPayloadBytes = maxPayload

	if err := websocket.JSON.Send(conn, frame{Type: frameHello, Rank: rank, Size: size}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	var reply frame
	if err := websocket.JSON.Receive(conn, &reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if reply.Type != frameWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("coordinator rejected rank %d: %s", rank, reply.Error)
	}

	p := &Peer{
		rank:   rank,
		size:   size,
		link:   newLink(0, conn),
		stop:   make(chan struct{}),
		logger: logger,
	}
	go p.link.readLoop(p.stop)
	logger.Info("joined group", zap.String("addr", addr), zap.Int("size", size))
	return p, nil
}

func (p *Peer) Rank() int { return p.rank }
func (p *Peer) Size() int { return p.size }

func (p *Peer) Barrier(ctx context.Context) error {
	seq := p.seq
	p.seq++
	if err := p.link.send(ctx, frame{Type: frameBarrier, Rank: p.rank, Seq: seq}); err != nil {
		return err
	}
	_, err := p.link.expect(ctx, frameRelease, seq, 0)
	return err
}

func (p *Peer) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if err := checkRoot(root, p.size); err != nil {
		return nil, err
	}
	seq := p.seq
	p.seq++
	if root == p.rank {
		if err := p.link.send(ctx, frame{Type: frameBcast, Rank: p.rank, Seq: seq, Root: root, Payload: payload}); err != nil {
			return nil, err
		}
		return bytes.Clone(payload), nil
	}
	f, err := p.link.expect(ctx, frameBcast, seq, root)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// Close drops the connection and waits for the reader to exit.
func (p *Peer) Close() error {
	close(p.stop)
	err := p.link.close()
	<-p.link.closed
	return err
}
