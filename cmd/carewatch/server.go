package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/carewatch/internal/api"
	"github.com/kalambet/carewatch/internal/careplan"
	"github.com/kalambet/carewatch/internal/composer"
	"github.com/kalambet/carewatch/internal/config"
	"github.com/kalambet/carewatch/internal/engine"
	"github.com/kalambet/carewatch/internal/generation"
	"github.com/kalambet/carewatch/internal/ingest"
	"github.com/kalambet/carewatch/internal/metrics"
	"github.com/kalambet/carewatch/internal/peersync"
	"github.com/kalambet/carewatch/internal/pipeline"
	"github.com/kalambet/carewatch/internal/profile"
	"github.com/kalambet/carewatch/internal/proxy"
	"github.com/kalambet/carewatch/internal/reminders"
	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/router"
	"github.com/kalambet/carewatch/internal/signals"
	"github.com/kalambet/carewatch/internal/storage"
	"github.com/kalambet/carewatch/internal/transport"
	"github.com/kalambet/carewatch/internal/watch"
)

const (
	// streamTopic carries reminder lifecycle events to websocket clients.
	streamTopic = "reminders"

	minGuidanceScore = 0.3
	syncConcurrency  = 8
	ingestPoll       = 500 * time.Millisecond
	shutdownTimeout  = 5 * time.Second
	ollamaTimeout    = 90 * time.Second
	mqttQuiesce      = 250 * time.Millisecond
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the carewatch server",
	Long: `Start the carewatch server.

By default the server is started in the background with its log written to
carewatch.log in the data directory. Use --foreground to run it attached to
the terminal, and --mcp to also serve MCP tools over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		foreground, _ := cmd.Flags().GetBool("foreground")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		if !foreground {
			if withMCP {
				return errors.New("--mcp needs --foreground")
			}
			return startDetached()
		}
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running carewatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show carewatch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("foreground", false, "run in the foreground")
	startCmd.Flags().Bool("mcp", false, "serve MCP tools over stdio (foreground only)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "carewatch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func serverHealthy(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func startDetached() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serverHealthy(cfg.Server.Port) {
		printWarning("carewatch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	logPath := filepath.Join(cfg.Storage.DataDir, "carewatch.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "start", "--foreground")
	child.Stdout = logFile
	child.Stderr = logFile
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting server process: %w", err)
	}
	pid := child.Process.Pid
	child.Process.Release()

	printStep("Starting carewatch (PID %d)...", pid)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if serverHealthy(cfg.Server.Port) {
			printSuccess("carewatch listening on port %d, log: %s", cfg.Server.Port, logPath)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	printWarning("carewatch has not answered yet; it may still be pulling models. See %s", logPath)
	return nil
}

// broker is the messaging side of the server: MQTT when enabled and
// reachable, an in-process bus otherwise.
type broker interface {
	transport.Publisher
	transport.Subscriber
}

func dialBroker(ctx context.Context, cfg config.Config, clientID string) (broker, func()) {
	if cfg.MQTT.Enabled {
		mq, err := transport.DialMQTT(ctx, transport.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       clientID,
			ConnectTimeout: 10 * time.Second,
			QoS:            1,
		})
		if err == nil {
			return mq, func() { mq.Close(mqttQuiesce) }
		}
		slog.Warn("mqtt unavailable, reminders will not sync with peers", "broker", cfg.MQTT.Broker, "error", err)
	}
	bus := transport.NewBus()
	return bus, bus.Close
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "carewatch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if serverHealthy(cfg.Server.Port) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	m := metrics.New()

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "carewatch-" + uuid.NewString()[:8]
	}
	link, closeLink := dialBroker(ctx, cfg, clientID)
	defer closeLink()

	hub := api.NewHub()

	// Reminders.
	rems := reminders.NewStore(store, reminders.Fanout{
		reminders.NewTopicPublisher(link, cfg.MQTT.ReminderTopic),
		reminders.NewTopicPublisher(hub, streamTopic),
	}, m, clientID)
	rems.SetPublishTimeout(cfg.Transport.PublishTimeout)

	// Risk evaluation, tuned to the subject's baseline when the profile has one.
	profileMgr := profile.NewManager(store)
	riskCfg := risk.DefaultConfig()
	if p, err := profileMgr.GetProfile(); err != nil {
		slog.Warn("reading profile, using default baselines", "error", err)
	} else {
		riskCfg = riskCfg.WithBaseline(p.Baseline.RestingHRLow, p.Baseline.RestingHRHigh, p.Baseline.SleepTargetHours)
	}
	riskCfg.HighCutoff = cfg.Risk.HighCutoff
	riskCfg.MediumCutoff = cfg.Risk.MediumCutoff
	evaluator := risk.NewEvaluator(riskCfg)

	sensors := signals.NewSensorCache()
	provider := signals.NewProvider(
		signals.NewWeatherClient(cfg.Weather.BaseURL, cfg.Weather.Timeout),
		sensors,
		evaluator.Config().Thresholds.SleepTarget,
	)

	// Local models back retrieval and, with the ollama backend, generation.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL, ollamaTimeout)
	chatModel := ""
	if cfg.Generation.Backend == config.BackendOllama {
		chatModel = cfg.Ollama.ChatModel
	}
	// Model pulls stream for minutes, so readiness uses an engine without a client timeout.
	if err := engine.EnsureReady(ctx, engine.NewOllamaEngine(cfg.Ollama.BaseURL, 0), chatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		slog.Warn("local model engine not ready, guidance falls back to templates until it is", "error", err)
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectors, minGuidanceScore)
	enricher := pipeline.NewEnricher(retriever, profileMgr, pipeline.NewEventHistory(store), composer.New(0), cfg.Retrieval.TopK)

	var rag generation.Generator
	switch cfg.Generation.Backend {
	case config.BackendOllama:
		rag = generation.NewChatGenerator("ollama", eng, cfg.Ollama.ChatModel, enricher)
	case config.BackendCloud:
		cloud := proxy.NewClient(cfg.Cloud.APIKey, cfg.Cloud.BaseURL, 0)
		rag = generation.NewChatGenerator("cloud", cloud, cfg.Cloud.Model, enricher)
	}
	slog.Info("generation backend", "backend", cfg.Generation.Backend)

	svc := watch.NewService(watch.Deps{
		Provider:       provider,
		Evaluator:      evaluator,
		Router:         router.New(careplan.NewEngine(), rems, rag, cfg.Subject.ID, m),
		Reminders:      rems,
		Log:            store,
		Profile:        profileMgr,
		Metrics:        m,
		Output:         transport.Tee{link, hub},
		OutputTopic:    cfg.MQTT.OutputTopic,
		PublishTimeout: cfg.Transport.PublishTimeout,
		SubjectID:      cfg.Subject.ID,
		UserName:       cfg.Subject.Name,
	})

	handler := api.NewAppHandler(api.AppDeps{
		Reminders:   rems,
		Watch:       svc,
		Store:       store,
		Profile:     profileMgr,
		Hub:         hub,
		Metrics:     m,
		Token:       apiToken,
		SubjectID:   cfg.Subject.ID,
		SleepTarget: evaluator.Config().Thresholds.SleepTarget,
		CORSOrigins: cfg.Server.CORSOriginList(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reminders.NewDueWorker(rems, cfg.Reminders.TriggerInterval, m).Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := peersync.New(link, cfg.MQTT.ReminderTopic, rems, m, syncConcurrency).Run(gctx); err != nil {
			slog.Error("reminder sync stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sensors.Run(gctx, link, cfg.MQTT.SensorTopic); err != nil {
			slog.Error("sensor feed stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		ingest.NewWorker(store, embedder, vectors, ingestPoll).Run(gctx)
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Reminders:   rems,
			Watch:       svc,
			Retriever:   retriever,
			Knowledge:   store,
			Profile:     profileMgr,
			SubjectID:   cfg.Subject.ID,
			SleepTarget: evaluator.Config().Thresholds.SleepTarget,
			Version:     version,
		})
		g.Go(func() error {
			if err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		slog.Info("carewatch listening", "addr", addr, "subject", cfg.Subject.ID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("carewatch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop carewatch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to carewatch (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	running := serverHealthy(cfg.Server.Port)
	if running {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL, 2*time.Second)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Subject", "%s", cfg.Subject.ID)
	printStatus("Generation", "%s", cfg.Generation.Backend)
	if cfg.Generation.Backend == config.BackendOllama {
		printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.MQTT.Enabled {
		printStatus("MQTT", "%s", cfg.MQTT.Broker)
	} else {
		printStatus("MQTT", "disabled")
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			for _, s := range []reminders.Status{reminders.StatusPending, reminders.StatusTriggered} {
				n, err := countReminders(ctx, client, s)
				if err == nil {
					printStatus(strings.ToUpper(string(s[:1]))+string(s[1:])+" reminders", "%s", countLabel(n, 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countReminders(ctx context.Context, client *apiClient, status reminders.Status) (int, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/api/reminders?status=%s&limit=100", status))
	if err != nil {
		return 0, err
	}
	var list []json.RawMessage
	if err := decodeJSON(resp, &list); err != nil {
		return 0, err
	}
	return len(list), nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
