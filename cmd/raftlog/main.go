// Package main implements the raftlog CLI: offline inspection of segment
// directories and live checks against a running raftlogd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
	healthgrpc "github.com/i-melnichenko/raftlog/internal/transport/grpc/health"
)

const usage = `Usage:
  raftlog dump [--entries] [--limit n] <dir>
  raftlog check <dir>
  raftlog health [--addr host:port] [--service name] [--timeout d]
  raftlog watch [--addr http://host:port[,http://host:port,...]]

Commands:
  dump    prints every segment of a log directory, optionally with its entries
  check   scans a log directory and fails if any segment is damaged
  health  queries the gRPC health service of a raftlogd
  watch   polls /status of one or more raftlogd processes and renders a live table
`

var errDamaged = errors.New("log directory is damaged")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "raftlog: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("subcommand required: dump | check | health | watch")
	}

	switch args[0] {
	case "dump":
		fs := flag.NewFlagSet("dump", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		entries := fs.Bool("entries", false, "print every intact entry")
		limit := fs.Int("limit", 0, "stop after this many entries (0 = all)")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 1 {
			return fmt.Errorf("usage: dump [--entries] [--limit n] <dir>")
		}
		return cmdDump(out, raftlog.OSFileSystem(), fs.Arg(0), *entries, *limit)

	case "check":
		if len(args) != 2 {
			return fmt.Errorf("usage: check <dir>")
		}
		return cmdCheck(out, raftlog.OSFileSystem(), args[1])

	case "health":
		fs := flag.NewFlagSet("health", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		addr := fs.String("addr", "localhost:9090", "raftlogd gRPC address")
		service := fs.String("service", healthgrpc.ServiceName, "health service name")
		timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 0 {
			return fmt.Errorf("usage: health [--addr host:port] [--service name] [--timeout d]")
		}
		client, err := healthgrpc.Dial(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		return cmdHealth(ctx, out, client, *service)

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		addr := fs.String("addr", "http://localhost:8080", "comma-separated raftlogd HTTP addresses")
		timeout := fs.Duration("timeout", 2*time.Second, "request timeout")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 0 {
			return fmt.Errorf("usage: watch [--addr http://host:port[,...]]")
		}
		return cmdWatch(splitAddrs(*addr), *timeout)

	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

type healthChecker interface {
	Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error)
}

func cmdHealth(ctx context.Context, out io.Writer, c healthChecker, service string) error {
	st, err := c.Check(ctx, service)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	_, _ = fmt.Fprintln(out, renderServingStatus(st))
	if st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %q is %s", service, st)
	}
	return nil
}

func splitAddrs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "://") {
			p = "http://" + p
		}
		out = append(out, strings.TrimRight(p, "/"))
	}
	return out
}
