// Command gateway is the composition root: it loads config.json, wires the
// Config Preprocessor's output into an assembled pipeline set, and runs the
// Front HTTP Server until an interrupt signal arrives. Modeled on the
// teacher's apps/cortex-gateway main, generalized past CortexBrain's
// memory/inference/onboarding surface onto the six-layer pipeline this repo
// implements instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/bus"
	"github.com/cortexhub/anthropic-gateway/internal/compat"
	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/debugtrace"
	"github.com/cortexhub/anthropic-gateway/internal/flow"
	"github.com/cortexhub/anthropic-gateway/internal/logging"
	"github.com/cortexhub/anthropic-gateway/internal/messaging"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/protocol"
	"github.com/cortexhub/anthropic-gateway/internal/router"
	"github.com/cortexhub/anthropic-gateway/internal/scheduler"
	"github.com/cortexhub/anthropic-gateway/internal/server"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
	"github.com/cortexhub/anthropic-gateway/internal/transform"
	"github.com/cortexhub/anthropic-gateway/internal/upstream"
)

const version = "1.0.0"

// rateLimitCooldown is how long a key rotator keeps a 429'd key benched
// before offering it again (spec.md §4.6).
const rateLimitCooldown = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "path to the gateway's JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.WithComponent(logging.New(cfg.Debug.LogLevel), "main")
	logger.Info("starting anthropic-gateway", "version", version)

	table, catalogue, err := config.Preprocess(*configPath)
	if err != nil {
		logger.Error("config preprocessing failed", "error", err)
		os.Exit(1)
	}

	blueprints := pipeline.BuildBlueprints(table, catalogue)
	factories := buildLayerFactories(catalogue)
	assembler := pipeline.NewAssembler(logger, factories)
	result := assembler.Assemble(blueprints)
	logger.Info("pipelines assembled", "healthy", result.Healthy, "failed", result.Failed)
	for id, ferr := range result.Failures {
		logger.Warn("pipeline assembly failed", "pipeline_id", id, "error", ferr)
	}

	switchCtl := switching.NewController(logger, false)
	for _, p := range result.Pipelines {
		switchCtl.Register(p)
	}

	rt := router.New(table, blueprints, switchCtl)

	var dlq flow.DeadLetterRecorder
	var announcer *flow.RemoteAnnouncer
	var stopDistributed func()
	if cfg.Distributed.Enabled {
		dlq, announcer, stopDistributed = startDistributed(cfg.Distributed, logger)
	}
	flowCtl := flow.NewController(flow.DefaultLimits(), flow.DefaultIdleTimeouts(), logger, dlq)
	if announcer != nil {
		flowCtl.SetAnnouncer(announcer)
	}
	trace := debugtrace.NewWriter(cfg.Debug.LogDir, cfg.Server.Port, cfg.Debug.Enabled)
	hub := bus.NewHub(logger)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, version, flowCtl, rt, switchCtl, result.Pipelines, trace, hub, logger)

	sched := scheduler.New(flowCtl, switchCtl, logger)
	sched.Start()
	logger.Info("scheduler started")

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()
	logger.Info("server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	if stopDistributed != nil {
		stopDistributed()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// dialectFor picks the wire dialect for a provider family; "openai" (the
// hosted API) and "openai-compatible" (self-hosted lookalikes) share
// OpenAIDialect since both speak the same /v1/chat/completions shape.
func dialectFor(protocolName string) protocol.Dialect {
	switch protocolName {
	case "gemini":
		return protocol.GeminiDialect{}
	case "ollama":
		return protocol.OllamaDialect{}
	case "llamacpp":
		return protocol.LlamaCppDialect{}
	case "lmstudio":
		return protocol.LMStudioDialect{}
	default:
		return protocol.OpenAIDialect{}
	}
}

func converterFor(protocolName string) transform.Converter {
	switch protocolName {
	case "gemini":
		return transform.GeminiConverter{}
	case "ollama":
		return transform.OllamaConverter{}
	case "llamacpp":
		return transform.LlamaCppConverter{}
	default:
		return transform.OpenAIConverter{}
	}
}

// startDistributed brings up the optional Redis-backed pool-coordination
// surface: a shared dead-letter stream (messaging/dlq.go), cross-instance
// conversation announcements (messaging/priority_processor.go), and an
// instance-liveness heartbeat (messaging/heartbeat.go). It returns the
// DeadLetterRecorder and RemoteAnnouncer to hand the Flow Controller and a
// stop func to call on shutdown. A Redis connection failure here is fatal — an operator who
// turned on distributed mode asked for pool coordination, so running
// single-instance silently instead would hide a misconfiguration.
func startDistributed(cfg config.DistributedConfig, logger *slog.Logger) (flow.DeadLetterRecorder, *flow.RemoteAnnouncer, func()) {
	client, err := messaging.NewRedisClient(messaging.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("distributed mode: redis connection failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	listener := flow.NewRemoteListener(client, cfg.InstanceName)
	go listener.Listen(ctx, func(sessionID, conversationID, requestID string) {
		logger.Info("distributed: conversation announced by peer", "session_id", sessionID, "conversation_id", conversationID, "request_id", requestID)
	})

	heartbeats := messaging.NewHeartbeatManager(client, cfg.InstanceName)
	go heartbeats.StartHeartbeatLoop(ctx, 10*time.Second, "healthy", nil)

	recorder := flow.NewRedisDeadLetterRecorder(client, cfg.InstanceName)
	announcer := flow.NewRemoteAnnouncer(client, cfg.InstanceName)

	return recorder, announcer, func() {
		heartbeats.Stop()
		cancel()
		if err := client.Close(); err != nil {
			logger.Warn("distributed: redis close error", "error", err)
		}
	}
}

// buildLayerFactories merges pipeline's stdlib-only factories with one
// transformer/protocol pair per distinct provider protocol in the
// catalogue, plus the compatibility and server factories every blueprint
// shares. Key rotators are built once per provider and closed over, since
// KeyRotator is stateful and must be shared across every request that
// pipeline serves (spec.md §4.6).
func buildLayerFactories(catalogue *config.Catalogue) map[string]pipeline.LayerFactory {
	factories := pipeline.DefaultFactories()

	rotators := make(map[string]*upstream.KeyRotator, len(catalogue.Providers))
	for name, p := range catalogue.Providers {
		rotators[name] = upstream.NewKeyRotator(name, p.APIKeys, upstream.StrategyHealthBased, rateLimitCooldown)
	}

	protocols := make(map[string]struct{})
	for _, p := range catalogue.Providers {
		protocols[p.Protocol] = struct{}{}
	}
	for protoName := range protocols {
		protoName := protoName
		factories["transform."+protoName] = func(desc pipeline.LayerDescriptor, bp *pipeline.Blueprint) (pipeline.Layer, error) {
			model, _ := desc.Config["model"].(string)
			return transform.NewLayer(model, converterFor(protoName)), nil
		}
		factories["protocol."+protoName] = func(desc pipeline.LayerDescriptor, bp *pipeline.Blueprint) (pipeline.Layer, error) {
			return protocol.NewLayer(dialectFor(protoName)), nil
		}
	}

	factories["compat.fixes"] = func(desc pipeline.LayerDescriptor, bp *pipeline.Blueprint) (pipeline.Layer, error) {
		return compat.NewLayer(bp.Provider), nil
	}

	factories["server.http"] = func(desc pipeline.LayerDescriptor, bp *pipeline.Blueprint) (pipeline.Layer, error) {
		rotator, ok := rotators[bp.Provider.Name]
		if !ok {
			return nil, fmt.Errorf("no key rotator registered for provider %s", bp.Provider.Name)
		}
		return upstream.NewLayer(bp.Provider, dialectFor(bp.Provider.Protocol).AuthStyle(), rotator, bp.Timeout, bp.Model), nil
	}

	return factories
}
