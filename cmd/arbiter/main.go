// Arbiter orchestrator server — serves the HTTP API, dispatches queued
// tasks to registered agents, and records verdicts for submitted
// artifacts.
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/arbiter/pkg/api"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/database"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/orchestrator"
	"github.com/codeready-toolchain/arbiter/pkg/queue"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
	"github.com/codeready-toolchain/arbiter/pkg/security"
	"github.com/codeready-toolchain/arbiter/pkg/store"
	"github.com/codeready-toolchain/arbiter/pkg/verdict"
)

// Exit codes: 0 success, 1 runtime or configuration error, 2 invalid
// spec (validate-spec), 3 unhealthy (status).
const (
	exitOK          = 0
	exitError       = 1
	exitInvalidSpec = 2
	exitUnhealthy   = 3
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "serve":
		os.Exit(runServe(args))
	case "validate-spec":
		os.Exit(runValidateSpec(args))
	case "status":
		os.Exit(runStatus(args))
	case "drain":
		os.Exit(runDrain(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\nusage: arbiter [serve|validate-spec|status|drain] [flags]\n", command)
		os.Exit(exitError)
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configDir := fs.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	_ = fs.Parse(args)

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Arbiter", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		return exitError
	}

	// 2. Load the token table for the security gate
	tokensPath := filepath.Join(*configDir, "tokens.yaml")
	var verifier security.Verifier
	if _, statErr := os.Stat(tokensPath); os.IsNotExist(statErr) {
		slog.Warn("No tokens file found; all authenticated operations will be rejected",
			"path", tokensPath)
		verifier = security.NewStaticVerifier()
	} else {
		loaded, err := security.LoadTokens(tokensPath)
		if err != nil {
			slog.Error("Failed to load tokens file", "path", tokensPath, "error", err)
			return exitError
		}
		verifier = loaded
	}

	// 3. Event bus, with the optional JSON-Lines sink
	bus := events.NewBus(cfg.Events.BufferSize, cfg.Events.RetainPerTopic)
	var sink *events.Sink
	if cfg.Events.Sink.Enabled {
		sink = events.NewSink(bus, cfg.Events.Sink.Dir,
			cfg.Events.Sink.RotateMB, cfg.Events.Sink.RetentionDays)
		if err := sink.Start(); err != nil {
			slog.Error("Failed to start event sink", "error", err)
			return exitError
		}
		slog.Info("Event sink started", "dir", cfg.Events.Sink.Dir)
	}

	// 4. Storage backend: PostgreSQL when DB credentials are present,
	// in-memory otherwise.
	var backend store.Backend
	var dbClient *database.Client
	if os.Getenv("DB_PASSWORD") != "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			return exitError
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			return exitError
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		backend = store.NewPostgresBackend(dbClient)
		slog.Info("Connected to PostgreSQL database")
	} else {
		backend = store.NewMemoryBackend()
		slog.Warn("DB_PASSWORD not set; using in-memory storage backend")
	}

	st := store.NewResilient(cfg.Store, backend, bus)
	st.Start()

	// 5. Domain components
	reg := registry.NewRegistry(st, bus)
	q := queue.NewQueue(cfg.Queue, bus)
	gen := verdict.NewGenerator(cfg.Verdict)
	orc := orchestrator.New(cfg, q, reg, st, gen, bus)
	orc.Start()
	slog.Info("Orchestrator started")

	gate := security.NewGate(cfg, verifier, bus)

	// 6. Durable audit trail (requires the database)
	var audit *security.AuditRecorder
	if dbClient != nil {
		audit = security.NewAuditRecorder(dbClient.DB(), bus)
		audit.Start()
		slog.Info("Audit recorder started")
	}

	// 7. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, gate, orc, reg, q, st, bus)
	if dbClient != nil {
		httpServer.SetDatabase(dbClient)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Arbiter started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := exitOK
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		exitCode = exitError
	}

	// 9. Graceful shutdown, reverse dependency order
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	orc.Stop()
	slog.Info("Orchestrator stopped")

	if audit != nil {
		audit.Stop()
	}
	st.Stop()
	if sink != nil {
		sink.Stop()
	}
	bus.Close()

	slog.Info("Shutdown complete")
	return exitCode
}

func runValidateSpec(args []string) int {
	fs := flag.NewFlagSet("validate-spec", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: arbiter validate-spec <spec-file>")
		return exitError
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", path, err)
		return exitError
	}

	var spec models.WorkingSpec
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &spec)
	} else {
		err = yaml.Unmarshal(data, &spec)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot parse %s: %v\n", path, err)
		return exitInvalidSpec
	}

	if err := verdict.ValidateSpec(&spec); err != nil {
		fmt.Fprintf(os.Stderr, "invalid spec: %v\n", err)
		return exitInvalidSpec
	}
	fmt.Printf("spec %s is valid (risk tier %d, %d acceptance criteria)\n",
		spec.ID, spec.RiskTier, len(spec.Acceptance))
	return exitOK
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", getEnv("ARBITER_URL", "http://localhost:8080"), "Arbiter base URL")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*baseURL + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach %s: %v\n", *baseURL, err)
		return exitError
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "unexpected status response: %v\n", err)
		return exitError
	}

	fmt.Printf("%s (%s)\n", body.Status, body.Version)
	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		return exitUnhealthy
	}
	return exitOK
}

// runDrain pauses dispatch and waits for in-flight assignments to
// finish, for use before a rolling restart.
func runDrain(args []string) int {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	baseURL := fs.String("url", getEnv("ARBITER_URL", "http://localhost:8080"), "Arbiter base URL")
	token := fs.String("token", os.Getenv("ARBITER_TOKEN"), "Admin token")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for in-flight work")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodPost, *baseURL+"/api/v1/command",
		strings.NewReader(`{"action":"stop"}`))
	if err != nil {
		fmt.Fprintf(os.Stderr, "building request: %v\n", err)
		return exitError
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*token)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach %s: %v\n", *baseURL, err)
		return exitError
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "stop command rejected: HTTP %d\n", resp.StatusCode)
		return exitError
	}
	fmt.Println("dispatch paused, waiting for in-flight assignments")

	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		inFlight, err := inFlightCount(client, *baseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "progress check failed: %v\n", err)
			return exitError
		}
		if inFlight == 0 {
			fmt.Println("drained")
			return exitOK
		}
		time.Sleep(2 * time.Second)
	}
	fmt.Fprintln(os.Stderr, "drain timeout exceeded with assignments still in flight")
	return exitError
}

func inFlightCount(client *http.Client, baseURL string) (int, error) {
	resp, err := client.Get(baseURL + "/progress")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body struct {
		ByState map[string]int `json:"assignments_by_state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.ByState["assigned"] + body.ByState["running"] + body.ByState["verifying"], nil
}
