// Package main implements lockrun, a CLI that runs a child command while
// holding a named distributed lock.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/Shavakan/fleetlock/pkg/backend"
	_ "github.com/Shavakan/fleetlock/pkg/backend/dynamo"
	_ "github.com/Shavakan/fleetlock/pkg/backend/mem"
	_ "github.com/Shavakan/fleetlock/pkg/backend/valkey"
	"github.com/Shavakan/fleetlock/pkg/config"
	"github.com/Shavakan/fleetlock/pkg/coordinator"
	"github.com/Shavakan/fleetlock/pkg/guard"
	"github.com/Shavakan/fleetlock/pkg/logging"
	"github.com/Shavakan/fleetlock/pkg/metrics"
	"github.com/Shavakan/fleetlock/pkg/tracing"
)

// Exit codes beyond the child's own.
const (
	exitUsage        = 64
	exitLockBusy     = 75
	exitSetupFailure = 69
)

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("lockrun", flag.ContinueOnError)
	lockName := fs.String("name", "{f_name}", "lock name template; {f_name} is the command's base name")
	waitSpec := fs.String("wait", "block", "blocking policy: block, nowait or a duration such as 30s")
	profile := fs.String("profile", "", "profile name from the profiles file")
	profilesPath := fs.String("profiles", "", "path to a YAML profiles file")
	var lockArgs stringList
	fs.Var(&lockArgs, "arg", "template argument as key=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: lockrun [flags] -- command [args...]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(argv); err != nil {
		return exitUsage
	}
	command := fs.Args()
	if len(command) == 0 {
		fs.Usage()
		return exitUsage
	}

	wait, err := parseWait(*waitSpec)
	if err != nil {
		log.Printf("Invalid -wait value: %v", err)
		return exitUsage
	}
	args, err := parseArgs(lockArgs)
	if err != nil {
		log.Printf("Invalid -arg value: %v", err)
		return exitUsage
	}

	cfg := config.LoadEnv()
	if *profile != "" {
		if *profilesPath == "" {
			log.Println("-profile requires -profiles")
			return exitUsage
		}
		profiles, err := config.LoadProfiles(*profilesPath)
		if err != nil {
			log.Printf("Failed to load profiles: %v", err)
			return exitSetupFailure
		}
		p, ok := profiles[*profile]
		if !ok {
			log.Printf("Unknown profile %q in %s", *profile, *profilesPath)
			return exitUsage
		}
		cfg.ApplyProfile(p)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitSetupFailure
	}

	logging.InitWithLevel(logging.ParseLevel(cfg.LogLevel))
	cliLog := logging.WithComponent(logging.LogTypeCLI, "lockrun")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := tracing.Init(ctx, tracing.LoadConfig())
	if err != nil {
		log.Printf("Failed to initialize tracing: %v", err)
		return exitSetupFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.StopTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			cliLog.Warn("tracing shutdown failed", logging.KeyError, err.Error())
		}
	}()

	publisher, err := initMetrics(ctx, cfg)
	if err != nil {
		log.Printf("Failed to initialize metrics: %v", err)
		return exitSetupFailure
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			cliLog.Warn("metrics close failed", logging.KeyError, err.Error())
		}
	}()

	coord := coordinator.New(coordinator.Config{
		BackendURL:              cfg.BackendURL,
		Prefix:                  cfg.Prefix,
		AgentID:                 cfg.AgentID,
		HeartbeatInterval:       cfg.HeartbeatInterval,
		InitialReconnectBackoff: cfg.InitialReconnectBackoff,
		MaxReconnectBackoff:     cfg.MaxReconnectBackoff,
	}, coordinator.WithMetrics(publisher))

	startCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	err = coord.Start(startCtx)
	cancel()
	if err != nil {
		log.Printf("Failed to start coordinator: %v", err)
		return exitSetupFailure
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), config.StopTimeout)
		defer cancel()
		if err := coord.Stop(stopCtx); err != nil {
			cliLog.Warn("coordinator stop failed", logging.KeyError, err.Error())
		}
	}()

	g := guard.New(coord, guard.WithMetrics(publisher))

	exitCode := 0
	guarded := g.Wrap(*lockName, wait, guard.Op{
		Name: filepath.Base(command[0]),
		Fn: func(ctx context.Context, _ guard.Args) error {
			exitCode = runChild(ctx, command)
			return nil
		},
	})

	if err := guarded(ctx, args); err != nil {
		if errors.Is(err, guard.ErrLockAcquireFailed) {
			cliLog.Warn("lock is busy", logging.KeyError, err.Error())
			return exitLockBusy
		}
		log.Printf("Guarded run failed: %v", err)
		return exitSetupFailure
	}
	return exitCode
}

// runChild executes the command with inherited stdio and maps its outcome
// to an exit code.
func runChild(ctx context.Context, command []string) int {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.Printf("Failed to run command: %v", err)
		return exitSetupFailure
	}
	return 0
}

// parseWait maps the -wait flag to a blocking policy.
func parseWait(spec string) (backend.Wait, error) {
	switch spec {
	case "block":
		return backend.Block(), nil
	case "nowait":
		return backend.NoWait(), nil
	default:
		d, err := time.ParseDuration(spec)
		if err != nil {
			return backend.Wait{}, fmt.Errorf("want block, nowait or a duration: %w", err)
		}
		if d <= 0 {
			return backend.Wait{}, fmt.Errorf("wait duration must be positive, got %v", d)
		}
		return backend.WaitFor(d), nil
	}
}

// parseArgs turns repeated key=value flags into template arguments.
func parseArgs(pairs []string) (guard.Args, error) {
	args := make(guard.Args, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("want key=value, got %q", pair)
		}
		args[key] = value
	}
	return args, nil
}

// initMetrics builds the metrics publisher from the configured backend
// list. The Prometheus handler is served on FLEETLOCK_METRICS_ADDR when
// set, since a short-lived CLI has no server to mount it on.
func initMetrics(ctx context.Context, cfg *config.Config) (metrics.Publisher, error) {
	var publishers []metrics.Publisher

	for _, name := range cfg.MetricsBackends {
		switch name {
		case "datadog":
			dd, err := metrics.NewDatadogPublisher(metrics.DatadogConfig{
				Address: cfg.DatadogAddress,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create Datadog publisher: %w", err)
			}
			publishers = append(publishers, dd)
		case "prometheus":
			prom := metrics.NewPrometheusPublisher(metrics.PrometheusConfig{})
			publishers = append(publishers, prom)
			if addr := os.Getenv("FLEETLOCK_METRICS_ADDR"); addr != "" {
				go func() {
					srv := &http.Server{Addr: addr, Handler: prom.Handler(), ReadHeaderTimeout: 5 * time.Second}
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Printf("Metrics server error: %v", err)
					}
				}()
			}
		case "cloudwatch":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			publishers = append(publishers, metrics.NewCloudWatchPublisherWithNamespace(awsCfg, cfg.CloudWatchNamespace))
		}
	}

	switch len(publishers) {
	case 0:
		return metrics.NoopPublisher{}, nil
	case 1:
		return publishers[0], nil
	default:
		return metrics.NewMultiPublisher(publishers...), nil
	}
}
