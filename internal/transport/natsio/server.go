package natsio

import (
	"context"
	"fmt"
	"time"

	nserver "github.com/nats-io/nats-server/v2/server"
)

// Server is an in-process core NATS server used by `serve` when
// nats.embedded is set, and by the transport tests.
type Server struct {
	ns *nserver.Server
}

// StartServer launches an embedded server on host:port and returns once it
// accepts client connections. Port -1 lets the server pick a free port.
// If ctx ends first the server is shut down and ctx's error returned.
func StartServer(ctx context.Context, host string, port int) (*Server, error) {
	ns, err := nserver.NewServer(&nserver.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats: %w", err)
	}
	go ns.Start()

	for !ns.ReadyForConnections(100 * time.Millisecond) {
		if err := ctx.Err(); err != nil {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded nats not ready: %w", err)
		}
	}
	return &Server{ns: ns}, nil
}

// ClientURL is the nats:// URL for Connect.
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// Close shuts the server down and waits for it, bounded by ctx.
func (s *Server) Close(ctx context.Context) error {
	s.ns.Shutdown()

	done := make(chan struct{})
	go func() {
		s.ns.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("embedded nats shutdown: %w", ctx.Err())
	}
}
