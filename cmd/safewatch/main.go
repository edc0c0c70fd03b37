package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lucid-vigil/safewatch/pkg/agent"
	"github.com/lucid-vigil/safewatch/pkg/config"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/logger"
	"github.com/lucid-vigil/safewatch/pkg/probe"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "safewatch",
		Short: "Passive, read-only network observation agent",
		Long: `safewatch watches network traffic without ever changing the host.

It reports packets from untrusted sources, writes an append-only event log
and periodic statistics, and never blocks, elevates or installs anything.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := logger.InitLogger(cfg.LogLevel, stderr)
			log.Info().Msgf("Configuration loaded: LogFile=%s, Reporters=%d", cfg.LogFile, len(cfg.Reporters))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return agent.New(cfg, log, agent.Options{Console: stdout}).Run(ctx)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to safewatch.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("safewatch version %s\n", version))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(newProbeCmd(opts, stdout, stderr))
	return rootCmd
}

func newProbeCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether packet capture is available, without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := logger.InitLogger(cfg.LogLevel, stderr)
			p := probe.NewCaptureProbe(cfg.Capture.LibraryPaths, cfg.Capture.Interface, log)
			printReport(stdout, p.Report(cmd.Context()))
			return nil
		},
	}
}

func printReport(w io.Writer, r probe.Report) {
	if r.LibraryFound {
		fmt.Fprintf(w, "capture library: %s\n", strings.Join(r.Libraries, ", "))
	} else {
		fmt.Fprintln(w, agent.MissingLibrary)
	}
	if r.InterfaceChecked {
		fmt.Fprintf(w, "interface %s: found=%t\n", r.Interface, r.InterfaceFound)
	}
	fmt.Fprintf(w, "available: %t\n", r.Available())
	if !r.Available() {
		fmt.Fprintln(w, agent.InstallManually)
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

// exitCode maps the result of a run to the process status. Missing capture
// support is a normal outcome.
func exitCode(err error, stderr io.Writer) int {
	if err == nil || errors.Is(err, agenterrors.ErrCaptureUnavailable) {
		return 0
	}
	fmt.Fprintf(stderr, "safewatch: %v\n", err)
	return 1
}

func main() {
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background())
	os.Exit(exitCode(err, os.Stderr))
}
