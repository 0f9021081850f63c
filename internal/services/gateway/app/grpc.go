package app

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StationService is the gRPC health service name of the station.
const StationService = "fishdish.Station"

// HealthServer mirrors Health.Ready on the standard gRPC health protocol.
type HealthServer struct {
	srv    *health.Server
	health *Health
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthServer(h *Health) *HealthServer {
	hs := &HealthServer{srv: health.NewServer(), health: h}
	hs.refresh()
	return hs
}

func (h *HealthServer) Server() healthpb.HealthServer { return h.srv }

func (h *HealthServer) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.health.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if status == h.last {
		return
	}
	h.last = status
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(StationService, status)
	log.Printf("gateway: grpc health %s", status)
}

// Watch refreshes the serving status every interval until ctx is done, then
// marks everything NOT_SERVING.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.refresh()
		}
	}
}

// ServeGRPC exposes the health service on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, addr string, hs *HealthServer) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs.Server())

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	log.Printf("gateway: gRPC health listening on %s", addr)
	return s.Serve(lis)
}
