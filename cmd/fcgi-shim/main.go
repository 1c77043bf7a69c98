package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http/fcgi"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"fcgi-shim-go/internal/client"
	"fcgi-shim-go/internal/config"
	"fcgi-shim-go/internal/handler"
	"fcgi-shim-go/internal/metrics"
	"fcgi-shim-go/internal/middleware"
	"fcgi-shim-go/internal/supervisor"
	"fcgi-shim-go/internal/translator"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	parser := kong.Parse(&cli,
		kong.Name("fcgi-shim"),
		kong.Description(fmt.Sprintf("FastCGI front end for a supervised plain-HTTP backend process. %s (%s, %s)", version, commit, date)),
		// Help prints usage and must exit nonzero; kong's help path calls
		// Exit(0), so map that to 1. Parse errors keep their own codes.
		kong.Exit(func(code int) {
			if code == 0 {
				code = 1
			}
			os.Exit(code)
		}),
	)

	// No backend command: print usage and exit cleanly.
	if len(cli.Command) == 0 {
		_ = parser.PrintUsage(false)
		return
	}

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newSupervisor,
			func(s *supervisor.Supervisor) handler.Backend { return s },
			client.NewBackendDialer,
			translator.New,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startSupervisor, startGateway),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		h = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newSupervisor(cfg *config.Config, logger *slog.Logger, cli *config.CLI) *supervisor.Supervisor {
	return supervisor.New(cfg, logger, cli.Command)
}

// startSupervisor spawns the backend on startup and guarantees the cleanup
// sequence on every exit path. An unexpected backend death shuts the whole
// process down through the fx Shutdowner.
func startSupervisor(lc fx.Lifecycle, shut fx.Shutdowner, sup *supervisor.Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return sup.Start(func(error) {
				_ = shut.Shutdown(fx.ExitCode(1))
			})
		},
		OnStop: func(_ context.Context) error {
			return sup.Shutdown()
		},
	})
}

// startGateway serves FastCGI on the configured listener through the Echo
// handler chain.
func startGateway(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	var ln net.Listener
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var err error
			ln, err = newListener(cfg)
			if err != nil {
				return err
			}
			logger.Info("gateway listening", "addr", ln.Addr().String())
			go func() {
				if err := fcgi.Serve(ln, e); err != nil && !errors.Is(err, net.ErrClosed) {
					logger.Error("gateway server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			if ln == nil {
				return nil
			}
			return ln.Close()
		},
	})
}

// newListener builds the FastCGI listener: inherited from stdin when no
// address is configured (the spawn-fcgi convention), a unix socket for an
// absolute path, TCP otherwise.
func newListener(cfg *config.Config) (net.Listener, error) {
	listen := cfg.Server.Listen
	switch {
	case listen == "":
		ln, err := net.FileListener(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("inherit FastCGI listener from stdin: %w", err)
		}
		return ln, nil
	case strings.HasPrefix(listen, "/"):
		return net.Listen("unix", listen)
	default:
		return net.Listen("tcp", listen)
	}
}
