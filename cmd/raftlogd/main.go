// Package main implements raftlogd, a process that hosts one segmented raft log,
// drives it with a synthetic consensus workload and reports its health.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apppkg "github.com/i-melnichenko/raftlog/internal/app"
	"github.com/i-melnichenko/raftlog/internal/observability/metrics"
	"github.com/i-melnichenko/raftlog/internal/raftlog"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "raftlogd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := apppkg.LoadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	logger := slog.Default()

	m, err := metrics.NewPrometheus(nil)
	if err != nil {
		return err
	}

	marshal, closeMarshal, err := newMarshal(cfg.Log.Compression)
	if err != nil {
		return err
	}
	defer closeMarshal()

	log, err := raftlog.New[[]byte](
		cfg.Log.RaftLogConfig(),
		raftlog.OSFileSystem(),
		marshal,
		logger,
		raftlog.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	app, err := apppkg.New(cfg, logger, log, m)
	if err != nil {
		return err
	}
	defer app.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}

func newMarshal(compress bool) (raftlog.ContentMarshal[[]byte], func(), error) {
	if !compress {
		return raftlog.BytesMarshal{}, func() {}, nil
	}
	z, err := raftlog.NewZstdMarshal[[]byte](raftlog.BytesMarshal{})
	if err != nil {
		return nil, nil, err
	}
	return z, func() { _ = z.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
