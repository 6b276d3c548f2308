// Command tensorcache stores and retrieves arrays in a tensor cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/tensor-cache/config"
	"github.com/wolfeidau/tensor-cache/credentials"
	"github.com/wolfeidau/tensor-cache/credentials/awsprovider"
	"github.com/wolfeidau/tensor-cache/credentials/opprovider"
	"github.com/wolfeidau/tensor-cache/record"
	"github.com/wolfeidau/tensor-cache/store"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config      string `help:"Configuration file (yaml, toml or json)." type:"path" env:"TENSORCACHE_CONFIG"`
	BasePath    string `help:"Cache base path, overrides the configuration (e.g. ./cache, s3://bucket/prefix, bolt:///tmp/c.db)." short:"b"`
	Compression string `help:"Chunk compression: none, zstd or lz4."`
	LogLevel    string `help:"Log level (debug, info, warn, error)."`
	LogFormat   string `help:"Log format (text, json)."`
	Credentials string `help:"Credentials template rendering object store secrets." type:"path"`
	OnePassword bool   `help:"Enable the op template function backed by the 1Password CLI." name:"op"`
	AWSSecrets  bool   `help:"Enable the ssm and secretsmanager template functions backed by AWS." name:"aws-secrets"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address while the command runs."`

	stdout io.Writer
	stderr io.Writer
}

// CLI is the command line.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Put    PutCmd    `cmd:"" help:"Store an array read from a raw little-endian file."`
	Get    GetCmd    `cmd:"" help:"Write the array stored under a key as raw little-endian bytes."`
	Exists ExistsCmd `cmd:"" help:"Report whether a key is stored."`
	Delete DeleteCmd `cmd:"" help:"Delete the array stored under a key."`
	Stat   StatCmd   `cmd:"" help:"Print the header of the array stored under a key."`
	Path   PathCmd   `cmd:"" help:"Print the storage path of a key."`
	Demo   DemoCmd   `cmd:"" help:"Store, read back and delete a random 100x100 float64 array."`
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("tensorcache"),
		kong.Description("A content-keyed cache for multidimensional arrays."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli.stdout = stdout
	cli.stderr = stderr

	rt, err := cli.Globals.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(rt)
}

// runtime is what commands operate on.
type runtime struct {
	cache  *store.TensorCache
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	closers []func(context.Context) error
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("shutdown", "error", err)
		}
	}
}

func (g *Globals) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.BasePath != "" {
		cfg.Cache.BasePath = g.BasePath
	}
	if g.Compression != "" {
		cfg.Cache.Compression = record.Compression(g.Compression)
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	if g.MetricsAddr != "" {
		cfg.Metrics.Listen = g.MetricsAddr
	}
	if g.Credentials != "" {
		cfg.Credentials = g.Credentials
	}

	if cfg.Credentials != "" {
		var opts []credentials.ResolverOption
		if g.OnePassword {
			opts = append(opts, opprovider.WithOnePassword())
		}
		if g.AWSSecrets {
			var loadOpts []func(*awsconfig.LoadOptions) error
			if cfg.Cache.S3.Region != "" {
				loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Cache.S3.Region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
			if err != nil {
				return nil, fmt.Errorf("loading AWS config: %w", err)
			}
			opts = append(opts, awsprovider.WithAWS(awsCfg))
		}
		creds, err := credentials.NewResolver(opts...).ResolveFile(ctx, cfg.Credentials)
		if err != nil {
			return nil, err
		}
		creds.Apply(&cfg.Cache)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Globals) open(ctx context.Context) (*runtime, error) {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log, g.stderr)
	slog.SetDefault(logger)
	rt := &runtime{logger: logger, stdout: g.stdout, stderr: g.stderr}

	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "tensorcache",
		ServiceVersion:   version,
		OTLPEndpoint:     cfg.Metrics.OTLPEndpoint,
		EnablePrometheus: cfg.Metrics.Listen != "",
		FlushInterval:    cfg.Metrics.FlushInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	rt.closers = append(rt.closers, shutdown)

	if cfg.Metrics.Listen != "" {
		stopServer, err := serveMetrics(cfg.Metrics.Listen, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.closers = append(rt.closers, stopServer)
	}

	cache, err := store.New(ctx, cfg.Cache,
		store.WithLogger(logger),
		store.WithObserver(store.MultiObserver{
			store.LogObserver(logger),
			store.MetricsObserver(),
		}),
	)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.cache = cache
	rt.closers = append(rt.closers, func(context.Context) error { return cache.Close() })

	return rt, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		})
	}
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func serveMetrics(addr string, logger *slog.Logger) (func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.PrometheusHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", ln.Addr().String())

	return srv.Shutdown, nil
}
