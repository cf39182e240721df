package commands

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurodataworks/conversant/config"
	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/events"
	"github.com/neurodataworks/conversant/llm"
	"github.com/neurodataworks/conversant/metadata"
	"github.com/neurodataworks/conversant/metrics"
	"github.com/neurodataworks/conversant/orchestrator"
	"github.com/neurodataworks/conversant/validation"
)

// runtimeDeps bundles the wired engine plus everything that needs shutdown.
type runtimeDeps struct {
	cfg    *config.Config
	engine *orchestrator.Engine
	events *events.Publisher
	logger *slog.Logger
}

func (d *runtimeDeps) close() {
	d.events.Close()
}

// buildRuntime loads configuration and wires the engine with its
// collaborators.
func buildRuntime(flags *rootFlags) (*runtimeDeps, error) {
	logger := slog.Default()

	if err := config.LoadEnv(flags.envPath); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.LoadFromFile(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	conv, err := buildConverter(cfg, logger)
	if err != nil {
		return nil, err
	}

	rules := metadata.DefaultRuleSet()
	if cfg.Metadata.RulesPath != "" {
		rules, err = metadata.LoadRuleSet(cfg.Metadata.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load normalization rules: %w", err)
		}
	}
	meta := metadata.NewEngine(rules, metadata.DefaultSchemas(), logger)

	var language *llm.Service
	if len(cfg.Language.Endpoints) > 0 {
		retryCfg := llm.DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.Language.MaxAttempts
		client := llm.NewClient(cfg.Language.Endpoints,
			llm.WithLogger(logger),
			llm.WithRetryConfig(retryCfg),
		)
		language = llm.NewService(client, logger)
	}

	var metricSet *metrics.Set
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		metricSet = metrics.NewSet(registry)
		go serveMetrics(cfg.Metrics.Listen, registry, logger)
	}

	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
	}

	engine, err := orchestrator.New(conv, validation.NewSchemaValidator(),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetadataEngine(meta),
		orchestrator.WithLanguage(language),
		orchestrator.WithMetrics(metricSet),
		orchestrator.WithEvents(publisher),
		orchestrator.WithCallTimeout(cfg.Engine.CallTimeout),
	)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return &runtimeDeps{
		cfg:    cfg,
		engine: engine,
		events: publisher,
		logger: logger,
	}, nil
}

func buildConverter(cfg *config.Config, logger *slog.Logger) (converter.Converter, error) {
	switch cfg.Converter.Mode {
	case "http":
		return converter.NewHTTP(cfg.Converter.URL,
			converter.WithLogger(logger),
		), nil
	default:
		return converter.NewLocal(cfg.Converter.OutputDir, converter.DefaultSignatures()), nil
	}
}

func serveMetrics(listen string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("Serving metrics", "listen", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("Metrics server stopped", "error", err)
	}
}
