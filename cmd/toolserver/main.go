// Package main is the entry point for the tool server: the dispatcher,
// Home Assistant synchronizer, ping/NTP effectors, and transcription
// bridge behind a small HTTP surface the orchestrator calls into.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/buildinfo"
	"github.com/rawpurplesmurf/mcp-server-home/internal/config"
	"github.com/rawpurplesmurf/mcp-server-home/internal/dispatcher"
	"github.com/rawpurplesmurf/mcp-server-home/internal/effectors/ntp"
	"github.com/rawpurplesmurf/mcp-server-home/internal/homeassistant"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
	"github.com/rawpurplesmurf/mcp-server-home/internal/transcribe"
)

const (
	transcribeDialTimeout = 5 * time.Second
	transcribeReadTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting tool server", "build", buildinfo.String())

	cfg, err := config.LoadServer(*configPath)
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

	sync := homeassistant.NewSynchronizer(cfg.HAURL, cfg.HAToken, cfg.HACacheTTL, logger)
	if cfg.Configured() {
		logger.Info("home assistant configured", "url", cfg.HAURL)
	} else {
		logger.Warn("home assistant not configured; ha_* tools will report effector_unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sync.Start(ctx)
	defer sync.Stop()

	ntpClient := ntp.New(cfg.NTPServer, cfg.NTPBackupServer, cfg.NTPTimeout)

	registry := dispatcher.NewRegistry()
	dispatcher.RegisterNTPTool(registry, ntpClient)
	dispatcher.RegisterPingTool(registry)
	dispatcher.RegisterHAStateTool(registry, sync)
	dispatcher.RegisterHALightTool(registry, sync)
	dispatcher.RegisterHASwitchTool(registry, sync)
	if cfg.TranscriberAddr != "" {
		transcribeClient := transcribe.New(cfg.TranscriberAddr, transcribeDialTimeout, transcribeReadTimeout)
		dispatcher.RegisterTranscribeTool(registry, transcribeClient)
		logger.Info("transcription bridge configured", "addr", cfg.TranscriberAddr)
	} else {
		logger.Warn("WHISPER_URL not set; transcribe_audio tool not registered")
	}
	logger.Info("tool registry initialized", "tools", len(registry.List()))

	disp := dispatcher.New(registry, logger)

	srv := newServer(cfg.ServerPort, disp, sync, logger)

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
	logger.Info("tool server stopped")
}

// server is the tool server's thin HTTP surface: health, tool listing,
// and the single tool-call endpoint.
type server struct {
	port   int
	disp   *dispatcher.Dispatcher
	sync   *homeassistant.Synchronizer
	logger *slog.Logger
	http   *http.Server
}

func newServer(port int, disp *dispatcher.Dispatcher, sync *homeassistant.Synchronizer, logger *slog.Logger) *server {
	return &server{port: port, disp: disp, sync: sync, logger: logger}
}

func (s *server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/tools/list", s.handleToolsList)
	mux.HandleFunc("POST /v1/tools/call", s.handleToolsCall)
	mux.HandleFunc("POST /v1/generate", s.handleGenerate)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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

type healthResponse struct {
	Status        string `json:"status"`
	CacheBackend  string `json:"cache_backend"`
	HomeAssistant string `json:"home_assistant"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, healthResponse{
		Status:        "ok",
		CacheBackend:  "in_process",
		HomeAssistant: string(s.sync.Health()),
	})
}

func (s *server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, s.disp.ListTools())
}

func (s *server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var call toolapi.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, s.logger, toolapi.Error(toolapi.KindInvalidArguments, "malformed request body", nil))
		return
	}
	result := s.disp.Call(r.Context(), call)
	writeJSON(w, s.logger, result)
}

// handleGenerate is a reserved endpoint; it answers with a mock
// response only.
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "not_implemented"})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}
