package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danmuck/memexd/internal/admin"
	"github.com/danmuck/memexd/internal/dispatch"
	"github.com/danmuck/memexd/internal/ingest"
	"github.com/danmuck/memexd/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const dispatchCloseTimeout = 5 * time.Second

type serveOptions struct {
	configPath string
	host       string
	port       int
	adminAddr  string
	debug      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion listener until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			logger := log.Logger
			if opts.debug {
				lc := logging.RuntimeConfig()
				lc.Level = zerolog.DebugLevel
				logger = logging.Apply(lc)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	f.StringVar(&opts.host, "host", "0.0.0.0", "interface to bind")
	f.IntVar(&opts.port, "port", 9999, "TCP port to bind")
	f.StringVar(&opts.adminAddr, "admin-addr", "", "address for the admin HTTP server (disabled when empty)")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	return cmd
}

// resolve layers explicitly set flags over the config file over defaults.
func (o serveOptions) resolve(flags *pflag.FlagSet) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if o.configPath != "" {
		loaded, err := loadServiceConfig(o.configPath)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg = loaded
	}

	if flags.Changed("host") || flags.Changed("port") {
		host, port, err := net.SplitHostPort(cfg.Ingest.ListenAddr)
		if err != nil {
			return serviceConfig{}, fmt.Errorf("listen addr %q: %w", cfg.Ingest.ListenAddr, err)
		}
		if flags.Changed("host") {
			host = o.host
		}
		if flags.Changed("port") {
			if o.port < 0 || o.port > 65535 {
				return serviceConfig{}, fmt.Errorf("port %d out of range", o.port)
			}
			port = strconv.Itoa(o.port)
		}
		cfg.Ingest.ListenAddr = net.JoinHostPort(host, port)
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = o.adminAddr
	}
	if err := cfg.validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

// runServe binds the ingest listener, starts the optional admin server and
// blocks until ctx is cancelled or either server fails. Bind errors are
// returned before anything is started.
func runServe(ctx context.Context, cfg serviceConfig, logger zerolog.Logger) error {
	d, closeDispatch := buildDispatcher(cfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), dispatchCloseTimeout)
		defer cancel()
		if err := closeDispatch(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("dispatch queue did not drain")
		}
	}()

	svc := ingest.NewService(cfg.Ingest, d,
		ingest.WithLogger(logger),
		ingest.WithNodeID(cfg.NodeID),
	)
	ln, err := svc.Listen()
	if err != nil {
		return err
	}

	var adminLn net.Listener
	if cfg.AdminAddr != "" {
		adminLn, err = net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("admin: listen %s: %w", cfg.AdminAddr, err)
		}
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("node", svc.NodeID()).
		Str("dispatch", cfg.Dispatch).
		Int("soft_limit", cfg.Ingest.SoftLimit).
		Int("hard_limit", cfg.Ingest.HardLimit).
		Dur("idle_timeout", cfg.Ingest.IdleTimeout).
		Msg("starting memex ingestion")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Serve(gctx, ln)
	})
	if adminLn != nil {
		srv := admin.New(cfg.AdminAddr, svc, cfg.CorsOrigins, logger)
		g.Go(func() error {
			return srv.ServeListener(gctx, adminLn)
		})
	}

	err = g.Wait()
	logger.Info().Msg("memex ingestion stopped")
	return err
}

// buildDispatcher returns the configured sink and a close func that drains
// any worker queue in front of it.
func buildDispatcher(cfg serviceConfig, logger zerolog.Logger) (ingest.Dispatcher, func(context.Context) error) {
	var base ingest.Dispatcher = ingest.Discard
	if cfg.Dispatch == dispatchLog {
		base = dispatch.NewLog(logger)
	}
	if cfg.DispatchQueue > 0 {
		o := dispatch.NewOffload(base, cfg.DispatchQueue, logger)
		return o, o.Close
	}
	return base, func(context.Context) error { return nil }
}
