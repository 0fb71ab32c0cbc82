package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stampsync/internal/config"
	"github.com/roach88/stampsync/internal/engine"
	"github.com/roach88/stampsync/internal/httpapi"
	"github.com/roach88/stampsync/internal/metrics"
	"github.com/roach88/stampsync/internal/store"
	"github.com/roach88/stampsync/internal/transport/natsio"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string

	// ready is called once every listener is up (for testing).
	ready func(ServeInfo)
}

// ServeInfo describes a running server.
type ServeInfo struct {
	RunID    string
	Topology string
	HTTPAddr string // empty when HTTP is disabled
	NATSURL  string // empty when NATS is disabled
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronizer as a service",
		Long: `Run one synchronizer engine behind an HTTP API and an optional NATS
transport until interrupted.

Samples arrive via POST /v1/streams/:stream/samples or on the NATS
subjects <subject_prefix>.<stream>. Matches are published to the NATS
match subject and every arrival, match and drop is logged to SQLite.

Configuration is read from a YAML file (--config, or stampsync.yaml in
the working directory or /etc/stampsync), STAMPSYNC_* environment
variables and flags, in increasing order of precedence.

Examples:
  stampsync serve --config ./stampsync.yaml
  stampsync serve --specs-dir ./specs --topology lidar_camera --embedded-nats
  STAMPSYNC_HTTP_ADDR=:9090 stampsync serve --topology lidar_camera`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.String("db", "", "path to SQLite database")
	flags.String("specs-dir", "", "directory of CUE topology specs")
	flags.String("topology", "", "topology to serve")
	flags.String("http-addr", "", "HTTP listen address, empty string disables")
	flags.String("nats-url", "", "NATS server URL")
	flags.Bool("embedded-nats", false, "run an embedded NATS server")
	flags.Int64("reorder-window", -1, "override the topology's reorder window")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	setupLogging(cmd.ErrOrStderr(), opts.Format, level)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts.ready); err != nil {
		return WrapExitError(ExitFailure, "serve failed", err)
	}
	return nil
}

// serve wires store, metrics, engine, HTTP and NATS, and blocks until ctx
// is cancelled or a component fails.
func serve(ctx context.Context, cfg *config.Config, ready func(ServeInfo)) error {
	topology, err := resolveTopology(cfg.SpecsDir, cfg.Topology)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	// The run ID is fixed up front so the sink can label what it publishes.
	runID := engine.UUIDv7Generator{}.Generate()
	info := ServeInfo{RunID: runID, Topology: topology.Name}

	engOpts := []engine.EngineOption{
		engine.WithStore(st),
		engine.WithMetrics(m),
		engine.WithRunID(runID),
	}
	if cfg.Reorder.Window >= 0 {
		engOpts = append(engOpts, engine.WithReorderWindow(cfg.Reorder.Window))
	}

	var nc *nats.Conn
	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			srv, err := startEmbeddedNATS(ctx, cfg.NATS)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := srv.Close(closeCtx); err != nil {
					slog.Error("embedded nats shutdown failed", "error", err)
				}
			}()
			url = srv.ClientURL()
		}

		nc, err = nats.Connect(url, nats.Name("stampsync-"+topology.Name))
		if err != nil {
			return fmt.Errorf("connect to nats %s: %w", url, err)
		}
		defer nc.Close()
		info.NATSURL = url

		sink := natsio.NewSink(nc, runID, cfg.NATS.MatchSubject, cfg.NATS.DropSubject)
		engOpts = append(engOpts,
			engine.WithMatchHandler(sink.MatchHandler()),
			engine.WithDropHandler(sink.DropHandler()),
		)
	}

	eng, err := engine.New(*topology, engOpts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	var source *natsio.Source
	if nc != nil {
		source = natsio.NewSource(nc, cfg.NATS.SubjectPrefix, topology.StreamNames(), eng)
		if err := source.Start(); err != nil {
			return fmt.Errorf("start nats source: %w", err)
		}
		defer source.Stop()
	}

	var (
		httpSrv *http.Server
		ln      net.Listener
	)
	if cfg.HTTP.Addr != "" {
		ln, err = net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
		}
		handlers := httpapi.NewHandlers(eng, httpapi.WithGatherer(reg), httpapi.WithPinger(st))
		httpSrv = &http.Server{
			Handler:           httpapi.NewRouter(handlers),
			ReadHeaderTimeout: 5 * time.Second,
		}
		info.HTTPAddr = ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if httpSrv != nil {
		g.Go(func() error {
			slog.Info("http listening", "addr", info.HTTPAddr)
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("serving",
		"run", runID,
		"topology", topology.Name,
		"http", info.HTTPAddr,
		"nats", info.NATSURL,
	)
	if ready != nil {
		ready(info)
	}

	err = g.Wait()
	slog.Info("serve stopped", "run", runID, "counts", eng.Snapshot().Counts)
	return err
}

func startEmbeddedNATS(ctx context.Context, cfg config.NATSConfig) (*natsio.Server, error) {
	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	srv, err := natsio.StartServer(readyCtx, cfg.EmbeddedHost, cfg.EmbeddedPort)
	if err != nil {
		return nil, err
	}
	slog.Info("embedded nats started", "url", srv.ClientURL())
	return srv, nil
}
