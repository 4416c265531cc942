package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/Francosimon53/secureagent-sub018/internal/infra/config"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/logger"
	"github.com/Francosimon53/secureagent-sub018/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = run()
	case "personas":
		err = runPersonas()
	case "validate":
		err = runValidate()
	case "doctor":
		err = runDoctor()
	case "demo":
		err = runDemo()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'secureagent --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`secureagent - multi-agent orchestration control plane

USAGE:
    secureagent [COMMAND] [FLAGS]

COMMANDS:
    run         Host the control plane until interrupted (default). Runs the
                idle sweep and event logging; agents are spawned and messages
                routed by code embedding the internal packages
    demo        Spawn a sample team, route messages between it and print the results
    personas    List the configured personas
    validate    Load and validate the configuration
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./secureagent.yaml)

CONFIGURATION:
    Config file: ./secureagent.yaml (defaults apply when missing)
    Environment: SECUREAGENT_* variables override config`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SECUREAGENT_CONFIG"); p != "" {
		return p
	}
	return "secureagent.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Control plane
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	unsubscribe := a.logEvents(log)
	defer unsubscribe()

	// 4. Idle sweep
	if err := a.lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	defer a.lifecycle.Stop()

	log.Info("control plane running",
		"store", cfg.Store.Backend,
		"max_concurrent_agents", cfg.Orchestrator.MaxConcurrentAgents,
		"personas", len(a.personas.List()),
	)
	<-ctx.Done()
	logShutdown(ctx, log, a)
	return nil
}

func logShutdown(ctx context.Context, log *slog.Logger, a *app) {
	stats, err := a.lifecycle.Stats(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("shutdown stats unavailable", "error", err)
		return
	}
	rs := a.router.Stats()
	log.Info("shutting down",
		"agents_active", stats.Active,
		"agents_total", stats.Total,
		"messages_routed", rs.Routed,
		"messages_queued", rs.QueuedMessages,
	)
}

func runPersonas() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	reg, err := loadPersonas(cfg.Personas, logger.Discard())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tCAPABILITIES")
	for _, p := range reg.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Type, p.Name, strings.Join(p.Capabilities, ","))
	}
	return w.Flush()
}

func runValidate() error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := loadPersonas(cfg.Personas, logger.Discard()); err != nil {
		return fmt.Errorf("personas: %w", err)
	}
	fmt.Printf("configuration OK (%s)\n", path)
	return nil
}
