//go:build integration

package testutil

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kahiteam/circbuf/internal/adapter"
	"github.com/kahiteam/circbuf/internal/api"
	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/registry"
)

// IntegrationServer is a real API server over a real registry, without the
// daemon's config and signal handling.
type IntegrationServer struct {
	Server     *api.Server
	Bus        *events.Bus
	Registry   *registry.Registry
	SocketPath string
}

// StartIntegrationServer serves the buffer API on a fresh Unix socket. The
// server is stopped when the test ends.
func StartIntegrationServer(t *testing.T, limits registry.Limits, cm api.ConfigManager, di api.DaemonInfo) *IntegrationServer {
	t.Helper()

	socketPath := filepath.Join(TempDir(t), "circbuf.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := events.NewBusWithHistory(logger, 64)
	reg := registry.New(limits, bus, logger)
	bufs := adapter.New(reg, adapter.Options{})

	srv := api.NewServer(api.Config{}, bufs, cm, di, bus, logger)
	if err := srv.StartUnix(socketPath, 0700); err != nil {
		t.Fatalf("cannot start integration server: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		reg.Close()
	})

	WaitFor(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second)

	return &IntegrationServer{
		Server:     srv,
		Bus:        bus,
		Registry:   reg,
		SocketPath: socketPath,
	}
}
