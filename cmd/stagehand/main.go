// Package main provides the stagehand binary entry point.
// Stagehand drives durable multi-phase workflows: every phase is
// executed by an external delegated worker, and the engine only
// advances once it finds verifiable proof that the worker finished.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "stagehand"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Durable workflow orchestration engine",
		Long: `Stagehand drives a named workflow instance through its phases.
Each phase's real work happens in an external delegated worker; the
engine verifies the worker's proof artifact before any transition, and
all progress is captured in durable session state so every command can
run as a brand-new process.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newStartCmd(&configPath, &logLevel),
		newAdvanceCmd(&configPath, &logLevel),
		newStatusCmd(&configPath, &logLevel),
		newVerifyCmd(&configPath, &logLevel),
		newHaltCmd(&configPath, &logLevel),
		newBranchCmd(&configPath, &logLevel),
		newLearningsCmd(&configPath, &logLevel),
		newReasonCmd(&configPath, &logLevel),
		newDispatchCmd(&configPath, &logLevel),
		newServeCmd(&configPath, &logLevel),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger configures slog from the --log-level flag.
func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
