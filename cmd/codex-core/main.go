// Command codex-core runs the runtime core as a single long-running
// process: it wires every component (transport, message processor,
// session/turn engine, completion backends, tool dispatch, background
// scheduler, and shared state services) together and blocks until the
// transport shuts down or the process receives SIGINT/SIGTERM.
//
// Graceful shutdown follows the same signal.Notify-driven shape as the
// oubliette example's cmd/server/main.go: a cancellable context tied to OS
// signals, a goroutine running the long-lived server, and a select that
// lets either the server's own fatal error or the signal win.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codex-core/codex-core/internal/claudetool"
	"github.com/codex-core/codex-core/internal/completion"
	"github.com/codex-core/codex-core/internal/config"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/metrics"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/processor"
	"github.com/codex-core/codex-core/internal/scheduler"
	"github.com/codex-core/codex-core/internal/session"
	"github.com/codex-core/codex-core/internal/state"
	"github.com/codex-core/codex-core/internal/storage"
	"github.com/codex-core/codex-core/internal/toolpipeline"
	"github.com/codex-core/codex-core/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "codex-core:", err)
		os.Exit(1)
	}
}

func run() error {
	wsAddr := flag.String("ws-addr", "", "serve JSON-RPC over WebSocket on this IP:port instead of stdio")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9464", "bind address for the /metrics endpoint (loopback only)")
	cleanupCron := flag.String("cleanup-cron", "@every 10m", "cron spec for the background shell cleanup sweep")
	cleanupMaxAge := flag.Duration("cleanup-max-age", time.Hour, "max age of a finished background shell before the sweeper removes it")
	approvalDeadline := flag.Duration("approval-deadline", 2*time.Minute, "how long a gated tool call waits for respondToApproval before it's treated as denied")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	codexHome, err := resolveCodexHome()
	if err != nil {
		return fmt.Errorf("resolve CODEX_HOME: %w", err)
	}
	if err := os.MkdirAll(codexHome, 0o755); err != nil {
		return fmt.Errorf("create CODEX_HOME: %w", err)
	}

	configStore, err := config.Open(codexHome)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}

	sideFiles, err := storage.Open(codexHome)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer sideFiles.Close()

	metricsRegistry := metrics.NewRegistry()
	dispatcher := notifications.NewDispatcher(logger)
	rateLimits := state.NewRateLimitPublisher(metricsRegistry)

	cfg := configStore.Current()
	modelInfo := completion.ModelInfo{Model: cfg.Model, Provider: "openai"}

	backend := buildCompletionBackend(logger, metricsRegistry, rateLimits)

	workingDir := claudetool.NewMutableWorkingDir(codexHome)
	oneShotProvider := staticLLMProvider{
		service: completion.NewOneShotService(backend, modelInfo, 128_000, 1568),
	}
	llmOneShot := (&claudetool.LLMOneShotTool{
		LLMProvider: oneShotProvider,
		ModelID:     cfg.Model,
		WorkingDir:  workingDir,
	}).Tool()

	approvals := processor.NewApprovalBroker(dispatcher)

	pipeline := &toolpipeline.Pipeline{
		Tools:               map[string]*llm.Tool{llmOneShot.Name: llmOneShot},
		OSSandboxAvailable:  osSandboxUnavailable,
		PermissionRequester: approvals,
		ApprovalDeadline:    *approvalDeadline,
		Notifications:       dispatcher,
		Metrics:             metricsRegistry,
		Logger:              logger,
	}

	engine := &session.Engine{
		Backend:   backend,
		Pipeline:  pipeline,
		SideFiles: sideFiles,
		ModelInfo: modelInfo,
	}

	shellStore := scheduler.NewStore()

	sweeper, err := scheduler.NewCleanupSweeper(shellStore, *cleanupCron, *cleanupMaxAge, logger)
	if err != nil {
		return fmt.Errorf("build cleanup sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	registry := session.NewRegistry(engine)

	spawner := &scheduler.SubagentSpawner{
		NewConversation: func(ctx context.Context, conversationID, parentConversationID, prompt string, configSnapshot map[string]any, permissionMode string) error {
			parent, ok := registry.Get(parentConversationID)
			if !ok {
				return fmt.Errorf("unknown parent conversation %q", parentConversationID)
			}
			mode := parent.Mode
			if permissionMode != "" {
				mode.Approval = policy.ApprovalMode(permissionMode)
			}
			registry.NewConversation(session.NewConversationInput{
				ID:                  conversationID,
				Cwd:                 parent.Cwd,
				Mode:                mode,
				CompactionThreshold: parent.CompactionThreshold,
			})

			sink := &processor.NotificationSink{
				DispatcherSink: toolpipeline.DispatcherSink{Dispatcher: dispatcher, ConversationID: conversationID},
				RateLimits:     rateLimits,
			}
			go func() {
				if err := registry.SendUserMessage(ctx, conversationID, llm.TextContent(prompt), "", sink); err != nil {
					logger.Error("subagent turn failed", "conversation_id", conversationID, "error", err)
				}
			}()
			return nil
		},
	}

	registry.NewToolContext = func(conversationID string) *state.ToolContext {
		return state.NewToolContext(conversationID, spawner.SpawnAgent)
	}
	registry.BuildTeardown = func(conversationID string) *state.Teardown {
		return &state.Teardown{
			CleanupShells: func(context.Context) error {
				shellStore.CleanupByConversation(conversationID)
				return nil
			},
			Logger: logger,
		}
	}

	proc := processor.New(configStore, registry, dispatcher, logger)
	proc.Approvals = approvals
	proc.Shells = shellStore
	dispatcher.Register(proc.Channel())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := configStore.Watch(ctx, proc, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	metricsSrv := serveMetrics(logger, metricsRegistry, *metricsAddr)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	mode := transport.ModeStdio
	if *wsAddr != "" {
		mode = transport.ModeWebSocket
	}
	server, err := transport.NewServer(mode, proc, logger, *wsAddr)
	if err != nil {
		return fmt.Errorf("build transport server: %w", err)
	}

	logger.Info("codex-core starting", "mode", modeName(mode), "codex_home", codexHome, "metrics_addr", *metricsAddr)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx, os.Stdin, os.Stdout) }()

	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("transport server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining transport")
		if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("transport server exited with error during shutdown", "error", err)
		}
	}

	logger.Info("codex-core shut down")
	return nil
}

func modeName(m transport.Mode) string {
	if m == transport.ModeWebSocket {
		return "websocket"
	}
	return "stdio"
}

// osSandboxUnavailable is the OSSandboxAvailable fallback when no
// platform-specific sandbox probe is wired in: policy.Decide treats "no OS
// sandbox" as the conservative case and falls back to approval prompts
// rather than silently running unsandboxed.
func osSandboxUnavailable() bool { return false }

// resolveCodexHome follows the same precedence the teacher's directory
// resolution uses: an explicit env var first, then a dotdir under the
// user's home.
func resolveCodexHome() (string, error) {
	if dir := os.Getenv("CODEX_HOME"); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codex-core"), nil
}

// buildCompletionBackend chooses and constructs a component D backend from
// environment configuration: a WebSocket URL takes precedence over the
// SSE/chat-completions client, and if both are configured they're combined
// via FallbackBackend so a WebSocket outage degrades to SSE rather than
// failing turns outright, per spec.md §4.D's fallback paragraph.
func buildCompletionBackend(logger *slog.Logger, metricsRegistry *metrics.Registry, rateLimits *state.RateLimitPublisher) completion.Backend {
	onLimits := func(meta completion.RateLimitMetadata) {
		snap := state.RateLimitSnapshot{}
		if meta.FiveHour != nil {
			snap.Short = convertRateLimitWindow(*meta.FiveHour)
		}
		if meta.Weekly != nil {
			snap.Long = convertRateLimitWindow(*meta.Weekly)
		}
		rateLimits.Publish(snap)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	sse := completion.NewSSEBackend(apiKey, baseURL, nil, onLimits)

	wsURL := os.Getenv("CODEX_WS_URL")
	if wsURL == "" {
		return sse
	}
	ws := completion.NewWSBackend(wsURL)
	return completion.NewFallbackBackend(ws, sse, func() {
		metricsRegistry.IncWebSocketFallback()
		logger.Warn("completion backend fell back from websocket to sse")
	})
}

func convertRateLimitWindow(w completion.RateLimitWindow) state.RateLimitWindow {
	minutes := w.WindowMinutes
	resets := w.ResetsInSeconds
	return state.RateLimitWindow{
		UsedPercent:    w.UsedPercent,
		WindowMinutes:  &minutes,
		ResetsInSecond: &resets,
	}
}

// serveMetrics binds metricsRegistry.Handler() to addr in the background.
// Per internal/metrics' own doc comment this is meant for loopback only; it
// is never exposed on the same listener as the JSON-RPC transport.
func serveMetrics(logger *slog.Logger, metricsRegistry *metrics.Registry, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRegistry.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return srv
}

// staticLLMProvider implements claudetool.LLMServiceProvider by returning
// the same llm.Service regardless of the requested model id. A future
// per-model routing layer would look the id up in a registry instead; one
// backend is all the process is configured with today.
type staticLLMProvider struct {
	service llm.Service
}

func (p staticLLMProvider) GetService(modelID string) (llm.Service, error) {
	return p.service, nil
}
