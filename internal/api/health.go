package api

import (
	"fmt"
	"net"
	"time"

	"Go2NetLog/internal/lifecycle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"
)

// ServiceName is the health service name of the engine. The empty name reports the same status.
const ServiceName = "flowlog.Engine"

// HealthServer serves the standard gRPC health protocol from the engine lifecycle state.
type HealthServer struct {
	state  *lifecycle.Tracker
	health *health.Server
	grpc   *grpc.Server
	stop   chan struct{}
}

// NewHealthServer creates a health server. Call Update or Watch to publish the state.
func NewHealthServer(state *lifecycle.Tracker) *HealthServer {
	h := &HealthServer{
		state:  state,
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
		stop:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.Update()
	return h
}

// Health returns the underlying health service.
func (h *HealthServer) Health() healthpb.HealthServer {
	return h.health
}

// Update publishes SERVING while the engine is running and NOT_SERVING otherwise.
func (h *HealthServer) Update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.state.IsRunning() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Watch calls Update every interval until Stop.
func (h *HealthServer) Watch(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Update()
			case <-h.stop:
				return
			}
		}
	}()
}

// Serve accepts gRPC connections on addr until Stop.
func (h *HealthServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	klog.Infof("gRPC health server starting on %s", lis.Addr())
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING, ends the watch loop and stops the gRPC server.
func (h *HealthServer) Stop() {
	select {
	case <-h.stop:
		return
	default:
	}
	close(h.stop)
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
