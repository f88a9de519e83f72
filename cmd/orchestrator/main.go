// Package main is the entry point for the orchestrator: the chat-facing
// process that routes a message to a shortcut or the LLM+USE_TOOL
// pipeline, dispatches tool calls against the tool server, and exposes
// the feedback/interaction log and transcription upload endpoints.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/buildinfo"
	"github.com/rawpurplesmurf/mcp-server-home/internal/config"
	"github.com/rawpurplesmurf/mcp-server-home/internal/feedback"
	"github.com/rawpurplesmurf/mcp-server-home/internal/llm"
	"github.com/rawpurplesmurf/mcp-server-home/internal/orchestrate"
	"github.com/rawpurplesmurf/mcp-server-home/internal/routing"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolclient"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting orchestrator", "build", buildinfo.String())

	cfg, err := config.LoadOrchestrator(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if level, perr := config.ParseLogLevel(cfg.LogLevel); perr == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	ephemeral, err := feedback.NewEphemeralStore(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	defer ephemeral.Close()

	var durable *feedback.DurableStore
	if cfg.MySQLUser != "" {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.MySQLUser, cfg.MySQLPassword, cfg.MySQLHost, cfg.MySQLPort, cfg.MySQLDatabase)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		durable, err = feedback.NewDurableStore(ctx, dsn, cfg.MySQLPoolSize)
		cancel()
		if err != nil {
			logger.Error("failed to connect to mysql; feedback promotion disabled", "error", err)
		} else {
			defer durable.Close()
		}
	} else {
		logger.Warn("MYSQL_USER not set; feedback promotion disabled")
	}

	feedbackSvc := feedback.New(ephemeral, durable, logger)

	toolServer := toolclient.New(cfg.ToolServerURL, logger)
	llmClient := llm.NewOracleClient(cfg.LLMURL, logger)
	router := routing.New(routing.DefaultRules())
	processor := orchestrate.New(router, toolServer, llmClient, cfg.LLMModel, feedbackSvc, logger)

	srv := newServer(cfg.ClientPort, processor, feedbackSvc, toolServer, logger)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
}

type server struct {
	port       int
	processor  *orchestrate.Processor
	feedback   *feedback.Service
	toolServer *toolclient.Client
	logger     *slog.Logger
	http       *http.Server
}

func newServer(port int, processor *orchestrate.Processor, fb *feedback.Service, toolServer *toolclient.Client, logger *slog.Logger) *server {
	return &server{port: port, processor: processor, feedback: fb, toolServer: toolServer, logger: logger}
}

func (s *server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /test-tool", s.handleTestTool)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /interaction/{session_id}/{interaction_id}", s.handleInteractionGet)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long enough for the synthesis pass
	}
	s.logger.Info("listening", "port", s.port)
	return s.http.ListenAndServe()
}

func (s *server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.toolServer.Health(r.Context())
	status := "ok"
	if err != nil {
		status = "tool_server_unreachable"
	}
	writeJSON(w, s.logger, map[string]any{"status": status, "tool_server": health})
}

func (s *server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.toolServer.ListTools(r.Context())
	if err != nil {
		writeError(w, s.logger, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, s.logger, tools)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response      string            `json:"response"`
	ToolsUsed     []string          `json:"tools_used"`
	Debug         toolapi.DebugInfo `json:"debug"`
	InteractionID string            `json:"interaction_id"`
	SessionID     string            `json:"session_id"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, s.logger, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}
	result, err := s.processor.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, s.logger, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, s.logger, chatResponse{
		Response:      result.Response,
		ToolsUsed:     result.ToolsUsed,
		Debug:         result.Debug,
		InteractionID: result.InteractionID,
		SessionID:     result.SessionID,
	})
}

// handleTestTool is a direct passthrough to the tool server, bypassing
// routing and the LLM entirely, for exercising a single tool in
// isolation.
func (s *server) handleTestTool(w http.ResponseWriter, r *http.Request) {
	var call toolapi.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	result, err := s.toolServer.Call(r.Context(), call)
	if err != nil {
		writeError(w, s.logger, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, s.logger, result)
}

type feedbackRequest struct {
	InteractionID string `json:"interaction_id"`
	SessionID     string `json:"session_id"`
	Feedback      string `json:"feedback"`
}

func (s *server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}

	var kind feedback.Kind
	switch req.Feedback {
	case "thumbs_up":
		kind = feedback.ThumbsUp
	case "thumbs_down":
		kind = feedback.ThumbsDown
	default:
		writeJSON(w, s.logger, toolapi.Error(toolapi.KindInvalidArguments, "feedback must be thumbs_up or thumbs_down", nil))
		return
	}

	if err := s.feedback.Submit(r.Context(), req.SessionID, req.InteractionID, kind); err != nil {
		writeError(w, s.logger, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

func (s *server) handleInteractionGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	interactionID := r.PathValue("interaction_id")
	in, ok, err := s.feedback.Get(r.Context(), sessionID, interactionID)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, s.logger, map[string]string{"error": "interaction not found"})
		return
	}
	writeJSON(w, s.logger, in)
}

// handleTranscribe accepts a multipart WAV upload and proxies it to the
// tool server's transcribe_audio tool, base64-encoding the file contents
// into the ToolCall arguments the same way any other USE_TOOL call
// would carry them.
func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, fmt.Errorf("missing audio file: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}

	args := map[string]any{"audio_base64": base64.StdEncoding.EncodeToString(data)}
	if lang := r.FormValue("language"); lang != "" {
		args["language"] = lang
	}

	result, err := s.toolServer.Call(r.Context(), toolapi.ToolCall{
		ToolName:  "transcribe_audio",
		Arguments: args,
		SessionID: r.FormValue("session_id"),
	})
	if err != nil {
		writeError(w, s.logger, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, s.logger, result)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	w.WriteHeader(status)
	writeJSON(w, logger, map[string]string{"error": err.Error()})
}
