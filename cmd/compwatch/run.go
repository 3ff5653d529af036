package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/compwatch/compwatch/internal/control"
	"github.com/compwatch/compwatch/internal/correction"
	"github.com/compwatch/compwatch/internal/emergency"
	"github.com/compwatch/compwatch/internal/events"
	"github.com/compwatch/compwatch/internal/monitor"
	"github.com/compwatch/compwatch/internal/scorer"
	"github.com/compwatch/compwatch/internal/storage"
	"github.com/compwatch/compwatch/internal/types"
	"github.com/compwatch/compwatch/internal/validator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitoring daemon",
	Long: `Start a monitoring session in the foreground.

The daemon validates the workspace every cycle, persists results to the
compliance database, and listens on a control socket for stop, suspend,
resume, status, and report commands.

Example:
  $ compwatch run
  Monitoring started (session 5f2a..., interval 60s)
  Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetString("workspace"); v != "" {
			cfg.Session.WorkspacePath = v
		}
		if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
			cfg.Session.MonitoringInterval = v
		}
		if v, _ := cmd.Flags().GetString("db"); v != "" {
			cfg.DatabasePath = v
		}
		if v, _ := cmd.Flags().GetString("socket"); v != "" {
			cfg.SocketPath = v
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runDaemon()
	},
}

func init() {
	runCmd.Flags().String("workspace", "", "Workspace to monitor (overrides config file)")
	runCmd.Flags().Duration("interval", 0, "Monitoring cycle interval (overrides config file)")
	runCmd.Flags().String("db", "", "Compliance database path (overrides config file)")
	runCmd.Flags().String("socket", "", "Control socket path (overrides config file)")
	rootCmd.AddCommand(runCmd)
}

func runDaemon() error {
	if err := types.ValidateWeights(); err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.DatabasePath})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	runner, err := validator.NewRunner(validator.DefaultValidators(), cfg.Session.EffectiveValidatorTimeout())
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	remediator := correction.NewWorkspaceRemediator(cfg.Session.WorkspacePath, matchesForbidden)
	corrector, err := correction.NewEngine(remediator, store, bus, log, cfg.Session.AutoCorrection)
	if err != nil {
		return err
	}

	supervisor := emergency.NewSupervisor(store, matchesForbidden, log)

	target := &validator.Target{
		WorkspacePath:  cfg.Session.WorkspacePath,
		Store:          store,
		RequiredDirs:   cfg.RequiredDirs,
		SensitiveFiles: cfg.SensitiveFiles,
	}

	m, err := monitor.New(cfg.Session, monitor.Deps{
		Store:      store,
		Runner:     runner,
		Scorer:     scorer.New(),
		Corrector:  corrector,
		Supervisor: supervisor,
		Bus:        bus,
		Log:        log,
		Target:     target,
	})
	if err != nil {
		return err
	}

	if err := m.Start(ctx); err != nil {
		return err
	}

	server := control.NewServer(cfg.SocketPath, m, log)
	if err := server.Start(); err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		m.Stop(stopCtx)
		return err
	}
	defer server.Close()

	green := color.New(color.FgGreen).SprintFunc()
	session := m.Session()
	fmt.Printf("%s Monitoring started (session %s, interval %v)\n",
		green("✓"), session.ID, cfg.Session.MonitoringInterval)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %v, shutting down...\n", sig)
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := m.Stop(stopCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Printf("%s Monitoring stopped cleanly\n", green("✓"))
	case <-m.Done():
		// The session ended on its own: clean stop via socket or halt.
		session := m.Session()
		if session.HaltTrigger != "" {
			red := color.New(color.FgRed, color.Bold).SprintFunc()
			fmt.Printf("%s Emergency halt: %s\n", red("✗"), session.HaltTrigger)
			return fmt.Errorf("session halted: %s", session.HaltTrigger)
		}
		fmt.Printf("%s Monitoring session ended (%s)\n", green("✓"), session.State)
	}
	return nil
}

// matchesForbidden marks backup-like artifact names for the security
// check, the remediator, and the recursion trigger alike.
func matchesForbidden(name string) bool {
	return validator.MatchesForbiddenPattern(name)
}

// newLogger builds the daemon logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logCfg.Encoding = "console"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logCfg.Build()
}
