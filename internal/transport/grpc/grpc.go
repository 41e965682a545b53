package grpctransport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the name reported by the health service for the order engine.
const ServiceName = "labshop.OrderService"

type pinger interface {
	Ping(ctx context.Context) error
}

// GRPCTransport serves the standard gRPC health protocol, backed by a storage ping.
type GRPCTransport struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	pinger   pinger
	interval time.Duration
	stop     chan struct{}
}

// NewGRPCTransport creates a new GRPCTransport.
func NewGRPCTransport(p pinger) *GRPCTransport {
	listener, err := net.Listen("tcp", ":"+viper.GetString("server.grpc.port"))
	if err != nil {
		panic(err)
	}

	interval := viper.GetDuration("server.grpc.health_interval")
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &GRPCTransport{
		server:   newGRPCServer(),
		listener: listener,
		health:   health.NewServer(),
		pinger:   p,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Run starts the gRPC server.
func (g *GRPCTransport) Run() error {
	g.RegisterServices()
	go g.watch()
	slog.Info("Starting gRPC server", "address", g.listener.Addr().String())

	return g.server.Serve(g.listener)
}

// Shutdown gracefully shuts down the gRPC server.
func (g *GRPCTransport) Shutdown(ctx context.Context) error {
	close(g.stop)
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()

		return ctx.Err()
	}
}

// RegisterServices registers the gRPC services.
func (g *GRPCTransport) RegisterServices() {
	healthpb.RegisterHealthServer(g.server, g.health)
}

func (g *GRPCTransport) watch() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		g.check()
		select {
		case <-g.stop:
			return
		case <-ticker.C:
		}
	}
}

func (g *GRPCTransport) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.pinger.Ping(ctx); err != nil {
		slog.Warn("Storage ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// newGRPCServer creates a new gRPC server with keepalive settings from config.
func newGRPCServer() *grpc.Server {
	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle: time.Duration(
			viper.GetInt("server.grpc.keepalive.max_connection_idle"),
		) * time.Minute,
		Time: time.Duration(
			viper.GetInt("server.grpc.keepalive.time"),
		) * time.Second,
		Timeout: time.Duration(
			viper.GetInt("server.grpc.keepalive.timeout"),
		) * time.Second,
	}

	return grpc.NewServer(grpc.KeepaliveParams(keepaliveParams))
}
