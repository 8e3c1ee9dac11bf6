// Command scout runs the cached research-report service: an HTTP API that
// fans a topic out into independently researched sections, assembles them
// into a single report, and streams progress over SSE, with a Redis-backed
// cache in front of every unit of work.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scout/pkg/agent"
	"github.com/odvcencio/scout/pkg/api"
	"github.com/odvcencio/scout/pkg/bus"
	"github.com/odvcencio/scout/pkg/cache"
	"github.com/odvcencio/scout/pkg/config"
	"github.com/odvcencio/scout/pkg/logging"
	"github.com/odvcencio/scout/pkg/model"
	"github.com/odvcencio/scout/pkg/research"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		bind        string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&bind, "bind", "", "listen address override")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("scout %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(configPath, bind); err != nil {
		fmt.Fprintf(os.Stderr, "scout: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, bind string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if bind != "" {
		cfg.Server.Bind = bind
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, "scout-"+ulid.Make().String())
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache store: optional, and its unavailability never blocks startup.
	// The health loop keeps trying in the background.
	var store *cache.Store
	var pipelineCache research.Cache
	if cfg.Cache.Enabled {
		store = cache.New(cfg.Cache, logger)
		if err := store.Initialize(ctx); err != nil {
			logger.Warn(logging.CategoryCache, "cache_init_failed", err.Error(), nil)
		}
		defer store.Close()
		pipelineCache = store
	}

	// Event bus: NATS when configured, otherwise a process-local bus so the
	// /events firehose still works.
	var eventBus bus.MessageBus
	if cfg.Bus.Enabled {
		eventBus, err = bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: cfg.Bus.Name})
		if err != nil {
			return fmt.Errorf("connecting to bus: %w", err)
		}
	} else {
		eventBus = bus.NewMemoryBus()
	}
	defer eventBus.Close()

	client := model.NewClient(cfg.Model.APIKey, cfg.Model.BaseURL)
	client.SetTimeout(cfg.Research.AggregateTimeout() + time.Minute)

	orch := research.New(
		pipelineCache,
		agent.NewSectionResearcher(client, cfg.Model, logger),
		agent.NewReportAssembler(client, cfg.Model, logger),
		logger,
		research.OptionsFromConfig(cfg.Research, cfg.Cache),
	)

	server := api.NewServer(api.ServerConfig{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		EventBus:     eventBus,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info(logging.CategorySession, "startup", "scout "+version, map[string]any{
		"bind":  cfg.Server.Bind,
		"cache": cfg.Cache.Enabled,
		"bus":   cfg.Bus.Enabled,
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	logger.Info(logging.CategorySession, "shutdown", "", nil)
	return nil
}
