package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/api"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/credentials"
	"github.com/parley-dev/parley/internal/daemon"
	"github.com/parley-dev/parley/internal/events"
	"github.com/parley-dev/parley/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Manage the background API daemon",
	Long: `Manage the parley daemon that serves the REST + WebSocket API
consumed by desktop frontends. 'start' detaches a background process;
'run' stays in the foreground.`,
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRunRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveRunCmd)
	rootCmd.AddCommand(serveCmd)

	serveRunCmd.Flags().String("listen", "", "Listen address (overrides listen_addr)")
	_ = viper.BindPFlag("listen_addr", serveRunCmd.Flags().Lookup("listen"))
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "parley-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "parley-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "run")
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("detach daemon: %w", err)
	}

	ui.Success("Daemon started on %s (log: %s)", viper.GetString("listen_addr"), serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("daemon not running")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	// Give it a few seconds to shut down gracefully, then force it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, still := pf.IsRunning(); !still {
			_ = pf.Remove()
			ui.Success("Daemon stopped (PID %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = pf.Signal(sigKILL())
	_ = pf.Remove()
	ui.Warning("Daemon killed after shutdown timeout (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("Daemon running with PID %d on %s", pid, viper.GetString("listen_addr"))
		return nil
	}
	ui.Info("Daemon not running")
	return nil
}

func serveRunRun() error {
	stateDir := viper.GetString("state_dir")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return fmt.Errorf("acquire PID file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	srv, err := buildServer(stateDir)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    viper.GetString("listen_addr"),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("daemon listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// buildServer wires the daemon's dependency graph.
func buildServer(stateDir string) (*api.Server, error) {
	st, err := getStore()
	if err != nil {
		return nil, err
	}

	cfgStore := config.NewStore(stateDir)
	credStore := credentials.NewStore(stateDir)
	broker := events.NewBroker()

	ag := agent.NewAnthropic(agent.Options{
		APIKey: func() (string, error) {
			creds, err := credStore.Load()
			if err != nil {
				return "", err
			}
			if creds != nil {
				return creds.Value, nil
			}
			return viper.GetString("anthropic.api_key"), nil
		},
		BaseURL: func() string {
			if base := cfgStore.Load().BaseURL; base != "" {
				return base
			}
			return viper.GetString("anthropic.base_url")
		},
		DefaultModel: viper.GetString("anthropic.model"),
		MaxTokens:    viper.GetInt("agent.max_tokens"),
	})

	rl := relay.New(st, broker, ag, relay.Options{
		ModelFunc: func() string {
			if model := cfgStore.Load().Model; model != "" {
				return model
			}
			return viper.GetString("anthropic.model")
		},
		System: viper.GetString("agent.system_prompt"),
	})

	return api.NewServer(st, cfgStore, credStore, rl, broker), nil
}
