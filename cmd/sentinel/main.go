// Command sentinel runs the MLOps remediation agent: a monitoring,
// diagnosis and auto-remediation loop with human approval gating and an
// HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stratoml/sentinel/internal/agent"
	"github.com/stratoml/sentinel/internal/alert"
	"github.com/stratoml/sentinel/internal/api"
	"github.com/stratoml/sentinel/internal/approval"
	"github.com/stratoml/sentinel/internal/config"
	"github.com/stratoml/sentinel/internal/decision"
	"github.com/stratoml/sentinel/internal/diagnosis"
	"github.com/stratoml/sentinel/internal/drift"
	"github.com/stratoml/sentinel/internal/executor"
	"github.com/stratoml/sentinel/internal/modelstore"
	"github.com/stratoml/sentinel/internal/monitor"
	"github.com/stratoml/sentinel/internal/scheduler"
	"github.com/stratoml/sentinel/internal/types"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all runtime components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *monitor.Store
	Models    *modelstore.Store
	Alerts    *alert.Publisher
	Approvals *approval.Manager
	Agent     *agent.Agent
	Scheduler *scheduler.Scheduler
	APIServer *api.Server
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := "sentinel.json"
	var subCmd string
	var subCmdIdx int

	// find the config flag so subcommands can use it too
	for i := 1; i < len(os.Args)-1; i++ {
		if os.Args[i] == "--config" || os.Args[i] == "-config" {
			configPath = os.Args[i+1]
		}
	}

	// first non-flag argument is the subcommand
	skipNext := false
	for i := 1; i < len(os.Args); i++ {
		if skipNext {
			skipNext = false
			continue
		}
		arg := os.Args[i]
		if arg == "--config" || arg == "-config" {
			skipNext = true
			continue
		}
		if len(arg) > 0 && arg[0] != '-' {
			subCmd = arg
			subCmdIdx = i
			break
		}
	}

	switch subCmd {
	case "", "serve":
		return runServe(configPath)
	case "once":
		return runOnce(configPath, os.Args[subCmdIdx+1:])
	case "token":
		return runToken(configPath, os.Args[subCmdIdx+1:])
	case "pending":
		return runPending(configPath, os.Args[subCmdIdx+1:])
	case "approve":
		return runReview(configPath, "approve", os.Args[subCmdIdx+1:])
	case "reject":
		return runReview(configPath, "reject", os.Args[subCmdIdx+1:])
	case "version":
		fmt.Printf("sentinel v%s (built %s)\n", version, buildTime)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subCmd)
		fmt.Fprintln(os.Stderr, "Available commands: serve, once, token, pending, approve, reject, version")
		return 1
	}
}

// setup initializes all application components. dryRun forces
// simulation regardless of the config file.
func setup(configPath string, dryRun bool) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	app.Logger.Info("starting sentinel", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.Agent.DryRun = true
	}
	app.Config = cfg

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	app.Metrics, err = monitor.New(cfg.Paths.MetricsDB, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open metric store: %w", err)
	}

	app.Models, err = modelstore.New(cfg.Paths.ProductionModelDir, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}

	app.Alerts = alert.NewPublisher(cfg.MQTT, app.Logger)
	if err := app.Alerts.Connect(); err != nil {
		// alerts degrade to log-only when the broker is unreachable
		app.Logger.Warn("mqtt connect failed, alerts are log-only", "error", err)
	}

	app.Approvals, err = approval.NewManager(cfg.Paths.QueueFile, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open approval queue: %w", err)
	}

	policy, err := diagnosis.LoadPolicy(cfg.Agent.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load diagnosis policy: %w", err)
	}

	var detector drift.Detector
	if cfg.Paths.ReferenceData != "" {
		ref, err := types.LoadCSV(cfg.Paths.ReferenceData)
		if err != nil {
			app.Logger.Warn("reference data unavailable, drift check disabled", "error", err)
		} else {
			d := drift.NewStatsDetector(0.1, app.Logger)
			d.SetReference(ref, "target")
			detector = d
		}
	}

	diag := diagnosis.New(policy, app.Metrics, detector, app.Logger)

	templates, err := decision.LoadTemplates(cfg.Agent.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("load action templates: %w", err)
	}
	dec := decision.New(templates, cfg.Agent.AutoApproveLowRisk, app.Logger)

	exec := executor.New(cfg.Agent, cfg.Paths, app.Models, app.Alerts, app.Metrics, app.Logger)

	input := cycleInput(cfg.Paths.ReferenceData, app.Logger)
	app.Agent = agent.New(cfg.Agent, diag, dec, exec, app.Approvals, input, app.Logger)

	app.APIServer = api.NewServer(*cfg, app.Agent, app.Models, app.Metrics, app.Logger)

	if cfg.Scheduler.Enabled {
		app.Scheduler = scheduler.NewScheduler(&schedulerTrigger{app: app}, app.Logger)
		for _, jobCfg := range cfg.Scheduler.Jobs {
			if err := app.Scheduler.AddJob(scheduler.FromConfig(jobCfg)); err != nil {
				app.Logger.Error("invalid scheduler job", "job", jobCfg.ID, "error", err)
			}
		}
	}

	return app, nil
}

func (app *App) close() {
	if app.Approvals != nil {
		app.Approvals.Close()
	}
	if app.Metrics != nil {
		app.Metrics.Close()
	}
	if app.Alerts != nil {
		app.Alerts.Close()
	}
}

// cycleInput loads the current dataset for each diagnosis pass. Missing
// data is not an error; the data-dependent checks are skipped.
func cycleInput(dataPath string, logger *slog.Logger) agent.InputProvider {
	return func(context.Context) (diagnosis.Input, error) {
		if dataPath == "" {
			return diagnosis.Input{}, nil
		}
		ds, err := types.LoadCSV(dataPath)
		if err != nil {
			logger.Debug("cycle dataset unavailable", "path", dataPath, "error", err)
			return diagnosis.Input{}, nil
		}
		return diagnosis.Input{Current: ds}, nil
	}
}

// runServe starts the agent loop, scheduler and API server and blocks
// until a shutdown signal arrives.
func runServe(configPath string) int {
	app, err := setup(configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := app.APIServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		if err := app.Agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("agent: %w", err)
		}
	}()

	if app.Scheduler != nil {
		if err := app.Scheduler.Start(ctx); err != nil {
			app.Logger.Error("scheduler start failed", "error", err)
		}
		defer app.Scheduler.Stop()
	}

	select {
	case <-ctx.Done():
		app.Logger.Info("shutdown signal received")
	case err := <-errCh:
		app.Logger.Error("fatal error", "error", err)
		return 1
	}

	// give the in-flight cycle and API connections a moment to finish
	time.Sleep(100 * time.Millisecond)
	return 0
}

// runOnce runs a single remediation cycle and prints the summary as JSON.
func runOnce(configPath string, args []string) int {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "simulate actions without side effects")
	fs.Parse(args)

	app, err := setup(configPath, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.close()

	summary, err := app.Agent.RunSingleCycle(context.Background())
	if err != nil {
		app.Logger.Error("cycle failed", "error", err)
		return 1
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		app.Logger.Error("encode summary failed", "error", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// schedulerTrigger adapts the app to the scheduler's Trigger interface.
type schedulerTrigger struct {
	app *App
}

func (t *schedulerTrigger) TriggerCycle(ctx context.Context) (bool, error) {
	_, ran, err := t.app.Agent.TryRunCycle(ctx)
	return ran, err
}

func (t *schedulerTrigger) CleanupApprovals(age time.Duration) int {
	return t.app.Approvals.Cleanup(age)
}

func (t *schedulerTrigger) RenderReport(ctx context.Context) error {
	report, err := t.app.Metrics.GenerateReport(ctx, 50)
	if err != nil {
		return err
	}
	dir := t.app.Config.Paths.ReportsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSON(fmt.Sprintf("%s/report_scheduled_%s.json", dir,
		time.Now().UTC().Format("20060102T150405")), report)
}

// apiClient is the shared HTTP setup for the review subcommands.
func apiClient(cfg *config.Config) (*http.Client, string) {
	base := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	return &http.Client{Timeout: 10 * time.Second}, base
}
