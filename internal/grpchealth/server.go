package grpchealth

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/wudi/analyzer/internal/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Service names answered by the server. The empty name is the overall
// server health and mirrors liveness.
const (
	ServiceOverall   = ""
	ServiceLiveness  = "liveness"
	ServiceReadiness = "readiness"
)

// DefaultPollInterval is how often Watch re-evaluates probes when no
// explicit notification arrives.
const DefaultPollInterval = 5 * time.Second

// Probes supplies the answers for each service.
type Probes struct {
	Live  func() bool
	Ready func() bool
}

// Server implements a gRPC health check server (grpc.health.v1.Health).
// It also satisfies listener.Listener so it can be started and drained
// alongside the HTTP listener.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer

	id           string
	grpcServer   *grpc.Server
	address      string
	probes       map[string]func() bool
	pollInterval time.Duration

	mu       sync.Mutex
	listener net.Listener
	changed  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new gRPC health check server bound to address on Start.
func NewServer(id, address string, probes Probes) *Server {
	live := probes.Live
	if live == nil {
		live = func() bool { return true }
	}
	ready := probes.Ready
	if ready == nil {
		ready = live
	}

	s := &Server{
		id:         id,
		grpcServer: grpc.NewServer(),
		address:    address,
		probes: map[string]func() bool{
			ServiceOverall:   live,
			ServiceLiveness:  live,
			ServiceReadiness: ready,
		},
		pollInterval: DefaultPollInterval,
		changed:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s)
	return s
}

// SetPollInterval overrides the Watch polling interval. Call before Start.
func (s *Server) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Notify wakes every Watch stream so it re-evaluates its probe now.
func (s *Server) Notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Server) changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Server) currentStatus(service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, bool) {
	probe, ok := s.probes[service]
	if !ok {
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, false
	}
	if probe() {
		return grpc_health_v1.HealthCheckResponse_SERVING, true
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING, true
}

// Check implements grpc_health_v1.HealthServer.
func (s *Server) Check(_ context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	st, ok := s.currentStatus(req.GetService())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch implements grpc_health_v1.HealthServer.
// It sends the current status immediately and again whenever it changes.
// Unknown services are reported as SERVICE_UNKNOWN rather than failing.
func (s *Server) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc.ServerStreamingServer[grpc_health_v1.HealthCheckResponse]) error {
	service := req.GetService()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Subscribe before reading a status so no Notify is missed in between.
	changed := s.changes()
	last, _ := s.currentStatus(service)
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: last}); err != nil {
		return err
	}

	for {
		select {
		case <-ticker.C:
		case <-changed:
		case <-s.done:
			// Final answer before the server goes away.
			if current, _ := s.currentStatus(service); current != last {
				stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current})
			}
			return nil
		case <-stream.Context().Done():
			return stream.Context().Err()
		}

		changed = s.changes()
		current, _ := s.currentStatus(service)
		if current == last {
			continue
		}
		if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
			return err
		}
		last = current
	}
}

// ID returns the listener identifier.
func (s *Server) ID() string {
	return s.id
}

// Protocol returns "grpc".
func (s *Server) Protocol() string {
	return "grpc"
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start binds the configured address and serves in the background.
func (s *Server) Start(ctx context.Context, errCh chan<- error) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	logging.Info("gRPC health server listening",
		zap.String("listener", s.id),
		zap.String("address", lis.Addr().String()),
	)

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Stop ends open Watch streams and gracefully stops the server. If ctx
// expires first the remaining RPCs are cut off.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
		return ctx.Err()
	}
}

// Close stops the server immediately.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	s.grpcServer.Stop()
	return nil
}
