// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cmd provides the command line interface for the simulator.
package cmd

import (
	"context"
	"fmt"
	"log/syslog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"log/slog"

	"github.com/spf13/cobra"
)

const appName = "cachesim"

var gLogFile *os.File
var gVersion = "0.1.0" // overwritten by ldflags at build time

// gLogLevel backs every handler's slog.HandlerOptions so a subcommand
// can raise verbosity after parsing a config's verbose directive,
// without tearing down and rebuilding the handler.
var gLogLevel = new(slog.LevelVar)

var examples = []string{
	fmt.Sprintf("  Run a trace through a hierarchy and print a report:  $ %s run --config l2.cfg --trace app.trace", appName),
	fmt.Sprintf("  Run a batch manifest of jobs:                        $ %s batch --manifest jobs.yaml", appName),
	fmt.Sprintf("  Check a hierarchy definition without running it:    $ %s validate-config --config l2.cfg", appName),
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:                appName,
	Short:              appName,
	Long:               fmt.Sprintf("%s replays a memory-reference trace through a configurable cache/TLB hierarchy and reports hit, miss, and coherence statistics.", appName),
	Example:            strings.Join(examples, "\n"),
	PersistentPreRunE:  initializeApplication,
	PersistentPostRunE: terminateApplication,
	Version:            gVersion,
}

// appContext carries run-wide state set up in PersistentPreRunE,
// retrieved by subcommands via contextFrom(cmd).
type appContext struct {
	Timestamp   string
	LogFilePath string
	Debug       bool
}

type contextKey struct{}

func contextFrom(cmd *cobra.Command) appContext {
	root := cmd
	for root.Parent() != nil {
		root = root.Parent()
	}
	if v := root.Context().Value(contextKey{}); v != nil {
		if ac, ok := v.(appContext); ok {
			return ac
		}
	}
	return appContext{}
}

var (
	flagDebug     bool
	flagSyslog    bool
	flagLogStdOut bool
)

func init() {
	rootCmd.SetUsageTemplate(`Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command] [flags]{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}
`)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(validateConfigCmd)

	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagSyslog, "syslog", false, "write logs to syslog instead of a file")
	rootCmd.PersistentFlags().BoolVar(&flagLogStdOut, "log-stdout", false, "write logs to stdout")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It is called by main.main().
func Execute() {
	cobra.EnableCommandSorting = false
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApplication(cmd *cobra.Command, args []string) error {
	timestamp := time.Now().Local().Format("2006-01-02_15-04-05")

	if flagDebug {
		gLogLevel.Set(slog.LevelDebug)
	} else {
		gLogLevel.Set(slog.LevelInfo)
	}
	logOpts := slog.HandlerOptions{Level: gLogLevel, AddSource: flagDebug}

	if flagSyslog && flagLogStdOut {
		return fmt.Errorf("only one of --syslog or --log-stdout may be specified")
	}

	var logFilePath string
	switch {
	case flagSyslog:
		handler, err := NewSyslogHandler(&logOpts)
		if err != nil {
			return fmt.Errorf("failed to create syslog handler: %w", err)
		}
		slog.SetDefault(slog.New(handler))
	case flagLogStdOut:
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &logOpts)))
	default:
		var err error
		gLogFile, err = os.OpenFile(appName+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G302
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(gLogFile, &logOpts)))
		logFilePath = gLogFile.Name()
	}

	slog.Info("starting up", slog.String("app", appName), slog.String("version", gVersion), slog.Int("pid", os.Getpid()), slog.String("arguments", strings.Join(os.Args, " ")))

	cmd.Root().SetContext(context.WithValue(context.Background(), contextKey{}, appContext{
		Timestamp:   timestamp,
		LogFilePath: logFilePath,
		Debug:       flagDebug,
	}))
	return nil
}

func terminateApplication(cmd *cobra.Command, args []string) error {
	slog.Info("shutting down", slog.String("app", appName), slog.String("version", gVersion), slog.Int("pid", os.Getpid()))
	if gLogFile != nil {
		if err := gLogFile.Close(); err != nil {
			return fmt.Errorf("error closing log file: %w", err)
		}
	}
	return nil
}

// SyslogHandler is a slog.Handler that logs to syslog.
type SyslogHandler struct {
	writer     *syslog.Writer
	logLeveler slog.Leveler
	addSource  bool
}

func NewSyslogHandler(logOpts *slog.HandlerOptions) (*SyslogHandler, error) {
	writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, filepath.Base(os.Args[0]))
	if err != nil {
		return nil, err
	}
	return &SyslogHandler{writer: writer, logLeveler: logOpts.Level, addSource: logOpts.AddSource}, nil
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	var msg string
	if r.PC != 0 && h.addSource {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		filePath := f.File
		if strings.HasPrefix(filePath, "/") {
			if wd, err := os.Getwd(); err == nil {
				if rel, err := filepath.Rel(wd, filePath); err == nil {
					_, lastWd := filepath.Split(wd)
					filePath = filepath.Join(lastWd, rel)
				}
			}
		}
		msg = fmt.Sprintf("level=%s source=%s:%d msg=%q", r.Level.String(), filePath, f.Line, r.Message)
	} else {
		msg = fmt.Sprintf("level=%s msg=%q", r.Level.String(), r.Message)
	}
	r.Attrs(func(attr slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%q", attr.Key, attr.Value.String())
		return true
	})
	switch r.Level {
	case slog.LevelDebug:
		return h.writer.Debug(msg)
	case slog.LevelInfo:
		return h.writer.Info(msg)
	case slog.LevelWarn:
		return h.writer.Warning(msg)
	case slog.LevelError:
		return h.writer.Err(msg)
	default:
		return h.writer.Info(msg)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *SyslogHandler) WithGroup(name string) slog.Handler       { return h }

func (h *SyslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.logLeveler.Level()
}
