package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xReLogic/logprobe/internal/codec"
	"github.com/0xReLogic/logprobe/internal/config"
	"github.com/0xReLogic/logprobe/internal/delivery"
	"github.com/0xReLogic/logprobe/internal/follow"
	"github.com/0xReLogic/logprobe/internal/logging"
	"github.com/0xReLogic/logprobe/internal/ratelimit"
	"github.com/0xReLogic/logprobe/internal/registry"
	"github.com/0xReLogic/logprobe/internal/tracing"
)

const (
	exitOK          = 0
	exitSetup       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usageLine = "Usage: logprobe [flags] [<host> <port>] --manual <LEVEL> <MESSAGE> | --automated | --abuse [COUNT] | --follow <FILE> [LEVEL]"

// usageError is a malformed invocation, reported as a single line before
// any I/O.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// invocation is a fully parsed command line.
type invocation struct {
	endpoint delivery.Endpoint
	command  string
	args     []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("logprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file (YAML)")
	timeout := fs.Duration("timeout", delivery.DefaultTimeout, "Per-message connect+write timeout, 0 disables (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	logLevel := fs.String("log-level", "", "Diagnostic log level: debug, info, warn, error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}
	flagArgs, modeArgs := splitMode(args)
	if err := fs.Parse(flagArgs); err != nil {
		return exitUsage
	}
	positional := append(append([]string(nil), fs.Args()...), modeArgs...)
	timeoutSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "timeout" {
			timeoutSet = true
		}
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitSetup
	}
	if timeoutSet {
		if *timeout < 0 {
			fmt.Fprintln(stdout, "Invalid timeout: must not be negative")
			return exitUsage
		}
		cfg.Delivery.Timeout = *timeout
	}
	if *metricsAddr != "" {
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if cfg.Logging.Environment != "" {
		os.Setenv("LOGPROBE_ENV", cfg.Logging.Environment)
	}
	if err := logging.Init(cfg.Logging.Level); err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logging: %v\n", err)
		return exitSetup
	}
	defer logging.Sync()

	inv, err := parseInvocation(positional, cfg)
	if err != nil {
		var uerr *usageError
		if errors.As(err, &uerr) {
			fmt.Fprintln(stdout, uerr.msg)
			return exitUsage
		}
		fmt.Fprintln(stderr, err)
		return exitSetup
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			logging.LogError("Failed to initialize tracing", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logging.GetLogger().Warn("tracing_shutdown", zap.Error(err))
				}
			}()
		}
	}

	if cfg.Metrics.ListenAddr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.ListenAddr)
		defer stopMetrics()
	}

	engine := delivery.New(
		delivery.WithTimeout(cfg.Delivery.Timeout),
		delivery.WithReporter(func(o delivery.Outcome) {
			fmt.Fprintln(stdout, o.String())
		}),
	)

	err = dispatch(ctx, engine, inv, cfg, stdout)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		logging.GetLogger().Info("interrupted")
		return exitInterrupted
	default:
		fmt.Fprintln(stderr, err)
		return exitSetup
	}
}

var modeWords = map[string]bool{
	"--manual":    true,
	"--automated": true,
	"--abuse":     true,
	"--follow":    true,
}

// splitMode cuts args at the first mode word. Everything from there on is
// positional, so mode words never reach the flag parser.
func splitMode(args []string) (flagArgs, modeArgs []string) {
	for i, a := range args {
		if modeWords[a] {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func usage(format string, a ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}

// parseInvocation accepts "<host> <port> <command> ..." or, when the first
// argument is already a command, takes the endpoint from configuration.
func parseInvocation(args []string, cfg *config.Config) (invocation, error) {
	var inv invocation
	if len(args) == 0 {
		return inv, usage("Invalid arguments.\n%s", usageLine)
	}

	if modeWords[args[0]] {
		ep, err := configuredEndpoint(cfg)
		if err != nil {
			return inv, err
		}
		inv.endpoint = ep
	} else {
		if len(args) < 3 {
			return inv, usage("Invalid arguments.\n%s", usageLine)
		}
		port, err := delivery.ParsePort(args[1])
		if err != nil {
			return inv, usage("Invalid port number\n%s", usageLine)
		}
		ep, err := delivery.NewEndpoint(args[0], port)
		if err != nil {
			return inv, usage("Invalid host\n%s", usageLine)
		}
		inv.endpoint = ep
		args = args[2:]
	}

	inv.command, inv.args = args[0], args[1:]
	switch inv.command {
	case "--manual":
		if len(inv.args) < 2 {
			return inv, usage("Invalid log level or message.")
		}
		if _, err := codec.ParseSeverity(inv.args[0]); err != nil {
			return inv, usage("Invalid log level or message.")
		}
	case "--automated":
	case "--abuse":
		if len(inv.args) > 0 {
			n, err := strconv.Atoi(inv.args[0])
			if err != nil || n < 0 {
				return inv, usage("Invalid message count: %q", inv.args[0])
			}
		}
	case "--follow":
		if len(inv.args) < 1 {
			return inv, usage("Missing file to follow.\n%s", usageLine)
		}
		if len(inv.args) > 1 {
			if _, err := codec.ParseSeverity(inv.args[1]); err != nil {
				return inv, usage("Invalid log level: %q", inv.args[1])
			}
		}
	default:
		return inv, usage("Invalid command. Use --automated, --abuse, --follow, or --manual [LOG_LEVEL] [MESSAGE].")
	}
	return inv, nil
}

func configuredEndpoint(cfg *config.Config) (delivery.Endpoint, error) {
	if cfg.Server.Service != "" {
		ep, err := registry.ResolveEndpoint(cfg.RegistryFile, cfg.Server.Service)
		if err != nil {
			return delivery.Endpoint{}, fmt.Errorf("resolve service %q: %w", cfg.Server.Service, err)
		}
		return ep, nil
	}
	ep, err := delivery.NewEndpoint(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		return delivery.Endpoint{}, usage("Invalid server in configuration: %v", err)
	}
	return ep, nil
}

func dispatch(ctx context.Context, engine *delivery.Engine, inv invocation, cfg *config.Config, stdout io.Writer) error {
	var (
		sum delivery.Summary
		err error
	)
	switch inv.command {
	case "--manual":
		engine.Manual(ctx, inv.endpoint, inv.args[0], inv.args[1])
		return nil
	case "--automated":
		sum, err = engine.Sweep(ctx, inv.endpoint, cfg.Automated.PerLevel, delivery.FixedDelay(cfg.Automated.Interval))
	case "--abuse":
		count := cfg.Abuse.Count
		if len(inv.args) > 0 {
			count, _ = strconv.Atoi(inv.args[0])
		}
		sum, err = engine.AbuseBurst(ctx, inv.endpoint, count, abusePacer(cfg.Abuse))
	case "--follow":
		severity := cfg.Follow.Severity
		if len(inv.args) > 1 {
			severity = inv.args[1]
		}
		f := follow.New(engine, inv.endpoint, severity, cfg.Follow.FromStart)
		sum, err = f.Run(ctx, inv.args[0])
	}
	fmt.Fprintf(stdout, "Sent %d of %d messages to %s (%d failed) in %s\n",
		sum.Succeeded, sum.Attempts, inv.endpoint, sum.Failed, sum.Elapsed.Round(time.Millisecond))
	return err
}

// abusePacer keeps the fixed gap between connections and, when max_rate is
// set, additionally caps the connection rate with a token bucket.
func abusePacer(c config.AbuseConfig) delivery.Pacer {
	fixed := delivery.FixedDelay(c.Interval)
	if c.MaxRate <= 0 {
		return fixed
	}
	bucket := ratelimit.NewTokenBucket(c.Burst, c.MaxRate)
	return delivery.Chain(fixed, delivery.PacerFunc(bucket.Wait))
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.GetLogger().Error("metrics_server", zap.Error(err))
		}
	}()
	logging.LogInfo("metrics_server_start", map[string]interface{}{"listen_addr": addr})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
