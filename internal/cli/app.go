package cli

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/logger"
	"github.com/taskweave/taskweave/internal/metrics"
	"github.com/taskweave/taskweave/pkg/assistant"
	"github.com/taskweave/taskweave/pkg/stream"
	"github.com/taskweave/taskweave/pkg/tasks"
	"github.com/taskweave/taskweave/pkg/transcript"
)

// app bundles the wired components every command needs.
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	metrics     *metrics.Metrics
	taskClient  *tasks.Client
	transcripts *transcript.Manager
	projectID   string
}

// buildApp loads config and wires shared components. Commands add the
// pieces they need on top.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	project := projectID
	if project == "" {
		project = cfg.Project.ID
	}

	m := metrics.New()

	taskClient, err := tasks.NewClient(tasks.ClientOptions{
		BaseURL: cfg.Server.BaseURL,
		APIKey:  cfg.Server.APIKey,
		Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		Logger:  log.GetZerolog(),
	})
	if err != nil {
		return nil, err
	}

	transcripts, err := transcript.New(transcriptDir(cfg.DataDir), log.GetZerolog())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		log:         log,
		metrics:     m,
		taskClient:  taskClient,
		transcripts: transcripts,
		projectID:   project,
	}, nil
}

// opener builds the configured turn-stream transport.
func (a *app) opener() (assistant.Opener, error) {
	zl := a.log.GetZerolog()
	onDrop := func() { a.metrics.DecodeDropsTotal.Inc() }

	switch a.cfg.Server.Transport {
	case "websocket":
		return &stream.WSClient{
			URL:    wsURL(a.cfg.Server.BaseURL),
			Logger: zl,
			OnDrop: onDrop,
		}, nil
	default:
		return stream.NewClient(stream.Options{
			BaseURL: a.cfg.Server.BaseURL,
			APIKey:  a.cfg.Server.APIKey,
			Timeout: time.Duration(a.cfg.Server.TimeoutSeconds) * time.Second,
			Logger:  zl,
			OnDrop:  onDrop,
		})
	}
}

// serveMetrics exposes the metrics endpoint when enabled. Errors are
// logged; a dead metrics listener never takes the chat down.
func (a *app) serveMetrics() {
	if !a.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	go func() {
		if err := http.ListenAndServe(a.cfg.Metrics.Addr, mux); err != nil {
			zl := a.log.GetZerolog()
			zl.Warn().Err(err).Str("addr", a.cfg.Metrics.Addr).Msg("Metrics listener failed")
		}
	}()
}

func (a *app) zerolog() zerolog.Logger {
	return a.log.GetZerolog()
}

func (a *app) close() {
	a.log.Close()
}

// transcriptDir places transcripts under the configured data
// directory; an unset data_dir falls back to the manager's default.
func transcriptDir(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "transcripts")
}

// wsURL derives the gateway socket endpoint from the HTTP base URL.
func wsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/chat/ws"
}
