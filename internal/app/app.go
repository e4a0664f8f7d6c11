// Package app wires the raft log, its health service, the admin HTTP server
// and the workload driver into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
	healthgrpc "github.com/i-melnichenko/raftlog/internal/transport/grpc/health"
	"github.com/i-melnichenko/raftlog/internal/workload"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// App serves a single raft log. The log is injected unstarted; Run starts it
// and Stop disposes it.
type App struct {
	config  Config
	logger  Logger
	log     *raftlog.SegmentedLog[[]byte]
	metrics workload.Metrics
	health  *healthgrpc.Server

	mu     sync.Mutex
	driver *workload.Driver
}

// New validates dependencies and constructs a runnable application.
// A nil metrics sink disables workload metrics.
func New(cfg Config, logger Logger, log *raftlog.SegmentedLog[[]byte], m workload.Metrics) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	if log == nil {
		return nil, fmt.Errorf("app: nil raft log")
	}
	return &App{
		config:  cfg,
		logger:  logger,
		log:     log,
		metrics: m,
		health:  healthgrpc.NewServer(log, logger),
	}, nil
}

// Stop disposes the raft log.
func (a *App) Stop() {
	if err := a.log.Shutdown(); err != nil && !errors.Is(err, raftlog.ErrDisposed) {
		a.logger.Error("raft log shutdown failed", "error", err)
	}
}

// Run starts the log and the servers and blocks until shutdown or fatal error.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if err := a.log.Start(ctx); err != nil {
		return fmt.Errorf("start raft log: %w", err)
	}

	lis, err := net.Listen("tcp", a.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.config.GRPCAddr, err)
	}
	defer func() { _ = lis.Close() }()

	httpSrv, httpLis, err := a.httpServer()
	if err != nil {
		return err
	}

	st := a.log.Status()
	a.logger.Info(
		"raftlogd started",
		"log", st.Name,
		"directory", st.Directory,
		"append_index", st.AppendIndex,
		"prev_index", st.PrevIndex,
		"segments", st.Segments,
		"grpc_addr", a.config.GRPCAddr,
		"http_addr", a.config.HTTPAddr,
	)

	return a.serve(ctx, lis, httpSrv, httpLis)
}

// serve registers gRPC services, starts goroutines, and blocks until ctx is
// canceled or a fatal error occurs. httpSrv may be nil.
func (a *App) serve(ctx context.Context, lis net.Listener, httpSrv *http.Server, httpLis net.Listener) error {
	var driver *workload.Driver
	if a.config.Workload.Enabled {
		d, err := workload.New(
			a.log,
			a.config.Workload.DriverConfig(),
			a.logger,
			otel.Tracer(tracerName),
			a.metrics,
			a.config.Log.Name,
		)
		if err != nil {
			if httpLis != nil {
				_ = httpLis.Close()
			}
			return fmt.Errorf("workload: %w", err)
		}
		driver = d
		a.mu.Lock()
		a.driver = d
		a.mu.Unlock()
	}

	server := grpc.NewServer()
	a.health.Register(server)
	reflection.Register(server)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.health.Run(runCtx, a.config.HealthInterval)
	}()

	if driver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A failed workload leaves the log in place for inspection.
			if err := driver.Run(runCtx); err != nil {
				a.logger.Error("workload stopped", "error", err)
				a.health.Update()
			}
		}()
	}

	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	if httpSrv != nil {
		go func() {
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http serve: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		a.health.Shutdown()
		server.GracefulStop()
	case err = <-errCh:
		server.Stop()
	}
	cancel()
	shutdownHTTPServer(httpSrv, a.logger, "http server")
	wg.Wait()
	return err
}

func (a *App) workloadDriver() *workload.Driver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.driver
}
