// Package grpcsurface streams played frames to remote viewers over gRPC.
package grpcsurface

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/surface"
)

// Full-resolution frames exceed the 4 MB gRPC default.
const maxMsgSize = 16 * 1024 * 1024

// Config holds configuration for the gRPC surface.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061").
	ListenAddr string
	// ClientBuffer is the number of frames queued per client before drops.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		ClientBuffer: 10,
	}
}

// Stats contains surface statistics.
type Stats struct {
	FrameCount uint64
	Dropped    uint64
	Clients    int32
}

type client struct {
	id      uint64
	frameCh chan []byte
}

// Surface is a surface.Surface that publishes every redraw to connected
// viewers. Remote viewers cannot close playback, so PollEvents never
// reports Closed.
type Surface struct {
	cfg      Config
	server   *grpc.Server
	listener net.Listener

	mu      sync.RWMutex
	clients map[uint64]*client
	pending []byte

	nextClient  atomic.Uint64
	frameCount  atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ surface.Surface = (*Surface)(nil)

// New creates a Surface. Nothing listens until Open.
func New(cfg Config) *Surface {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Surface{
		cfg:     cfg,
		clients: make(map[uint64]*client),
		stopCh:  make(chan struct{}),
	}
}

// Open binds the listener and starts serving.
func (s *Surface) Open(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("grpc surface already running")
	}
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterViewerServer(s.server, s)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Opsf("[grpc] viewer service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Opsf("[grpc] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Open.
func (s *Surface) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// AddGeometry stages the first frame.
func (s *Surface) AddGeometry(pc *cloud.PointCloud) error {
	return s.stage(pc)
}

// UpdateGeometry stages the current contents of pc.
func (s *Surface) UpdateGeometry(pc *cloud.PointCloud) error {
	return s.stage(pc)
}

func (s *Surface) stage(pc *cloud.PointCloud) error {
	if !s.running.Load() {
		return surface.ErrNotOpen
	}
	payload := EncodeFrame(s.frameCount.Load()+1, pc)
	s.mu.Lock()
	s.pending = payload
	s.mu.Unlock()
	return nil
}

// PollEvents always reports an open surface.
func (s *Surface) PollEvents() surface.Events {
	return surface.Events{}
}

// Redraw sends the staged frame to every client. Slow clients lose frames.
func (s *Surface) Redraw() error {
	if !s.running.Load() {
		return surface.ErrNotOpen
	}
	s.mu.Lock()
	payload := s.pending
	s.pending = nil
	s.mu.Unlock()
	if payload == nil {
		return nil
	}
	count := s.frameCount.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.frameCh <- payload:
		default:
			dropped := s.dropped.Add(1)
			monitoring.Diagf("[grpc] dropped frame %d for client %d (total dropped: %d)", count, c.id, dropped)
		}
	}
	return nil
}

// Close stops all streams and the server.
func (s *Surface) Close() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.stopCh)
	if s.server != nil {
		s.server.GracefulStop()
	}
	s.wg.Wait()
	monitoring.Opsf("[grpc] viewer service stopped after %d frames (%d dropped)", s.frameCount.Load(), s.dropped.Load())
	return nil
}

// Stats returns current statistics.
func (s *Surface) Stats() Stats {
	return Stats{
		FrameCount: s.frameCount.Load(),
		Dropped:    s.dropped.Load(),
		Clients:    s.clientCount.Load(),
	}
}

// StreamFrames implements ViewerServer.
func (s *Surface) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	c := s.addClient()
	defer s.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case payload := <-c.frameCh:
			if err := stream.SendMsg(wrapperspb.Bytes(payload)); err != nil {
				monitoring.Diagf("[grpc] send to client %d: %v", c.id, err)
				return err
			}
		}
	}
}

func (s *Surface) addClient() *client {
	c := &client{
		id:      s.nextClient.Add(1),
		frameCh: make(chan []byte, s.cfg.ClientBuffer),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	monitoring.Opsf("[grpc] client %d connected (total: %d)", c.id, s.clientCount.Add(1))
	return c
}

func (s *Surface) removeClient(id uint64) {
	s.mu.Lock()
	_, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if ok {
		monitoring.Opsf("[grpc] client %d disconnected (remaining: %d)", id, s.clientCount.Add(-1))
	}
}
