package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/procdash/internal/config"
	"github.com/loykin/procdash/internal/logger"
	"github.com/loykin/procdash/internal/portresolve"
)

func createRootCommand(flags *RootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "procdash",
		Short: "Supervise local processes from a terminal dashboard",
		Long: `procdash starts the processes listed in a TOML config file and shows
them in a terminal dashboard where each one can be started, stopped,
restarted and its output inspected.

Examples:
  procdash                          # uses ./config.toml
  procdash --config=dev.toml
  procdash --api-listen=127.0.0.1:9090 --log-file=procdash.log`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", config.DefaultPath, "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "write diagnostics to this file (overrides [log].file)")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug diagnostics")
	root.Flags().StringVar(&flags.APIListen, "api-listen", "", "serve the HTTP API and /metrics on this address (overrides [api].listen)")

	return root
}

func createValidateCommand(rootFlags *RootFlags, flags *ValidateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the process table",
		Long: `Load and validate the config file without starting anything.

Examples:
  procdash validate
  procdash validate --config=dev.toml --quiet`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), cmd.ErrOrStderr(), rootFlags, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Quiet, "quiet", false, "print nothing when the config is valid")
	return cmd
}

func createStatusCommand(rootFlags *RootFlags, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print configured processes and who listens on their ports",
		Long: `Print the configured processes as JSON. For every process with a port the
configured resolver looks up the pid currently listening on it. Nothing is
started or stopped.

Examples:
  procdash status
  procdash status --timeout=500ms`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), rootFlags, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", portresolve.DefaultTimeout, "timeout for each port lookup")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the procdash version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "procdash %s\n", version)
		},
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(flags *RootFlags) (*config.FileConfig, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.LogFile != "" {
		cfg.Log.File = flags.LogFile
	}
	if flags.Debug {
		cfg.Log.Level = string(logger.LevelDebug)
	}
	if flags.APIListen != "" {
		cfg.API.Listen = flags.APIListen
	}
	return cfg, nil
}

// cliLogger is used by the non-dashboard commands, which own the terminal.
func cliLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(logger.NewColorTextHandler(w, &slog.HandlerOptions{Level: level}, false))
}

func runValidate(stdout, stderr io.Writer, rootFlags *RootFlags, flags *ValidateFlags) error {
	log := cliLogger(stderr, rootFlags.Debug)
	cfg, err := loadConfig(rootFlags)
	if err != nil {
		log.Error("config is invalid", "path", rootFlags.ConfigPath, "error", err)
		return err
	}
	if _, err := cfg.ProcessOptions(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rootFlags.ConfigPath, err)
	}
	if _, err := cfg.SharedEnv(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rootFlags.ConfigPath, err)
	}
	log.Debug("config loaded", "path", rootFlags.ConfigPath, "processes", len(cfg.Processes))
	if flags.Quiet {
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPORT\tAUTOSTART\tCWD\tCOMMAND")
	for _, sp := range cfg.Specs() {
		port := "-"
		if sp.Port != 0 {
			port = fmt.Sprint(sp.Port)
		}
		cwd := sp.WorkDir
		if cwd == "" {
			cwd = "-"
		}
		cmdline := sp.CommandLine()
		if cmdline == "" {
			cmdline = "(none)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", sp.Name, port, sp.Autostart, cwd, cmdline)
	}
	return tw.Flush()
}

// statusEntry is one row of the status command output.
type statusEntry struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	WorkDir   string `json:"work_dir,omitempty"`
	Port      uint16 `json:"port,omitempty"`
	Autostart bool   `json:"autostart"`
	PortOwner int    `json:"port_owner,omitempty"`
}

func runStatus(ctx context.Context, stdout, stderr io.Writer, rootFlags *RootFlags, flags *StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cliLogger(stderr, rootFlags.Debug)
	cfg, err := loadConfig(rootFlags)
	if err != nil {
		return err
	}
	res, err := portresolve.New(cfg.PortResolver)
	if err != nil {
		return err
	}
	timeout := flags.Timeout
	if timeout <= 0 {
		timeout = portresolve.DefaultTimeout
	}

	specs := cfg.Specs()
	out := make([]statusEntry, 0, len(specs))
	for _, sp := range specs {
		e := statusEntry{
			Name:      sp.Name,
			Command:   sp.CommandLine(),
			WorkDir:   sp.WorkDir,
			Port:      sp.Port,
			Autostart: sp.Autostart,
		}
		if sp.Port != 0 {
			lookupCtx, cancel := context.WithTimeout(ctx, timeout)
			if pid, ok := res.Resolve(lookupCtx, sp.Port); ok {
				e.PortOwner = pid
			}
			cancel()
			log.Debug("port lookup", "name", sp.Name, "port", sp.Port, "resolver", res.Describe(), "pid", e.PortOwner)
		}
		out = append(out, e)
	}
	return printJSON(stdout, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether f looks like an interactive terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0 && !strings.EqualFold(os.Getenv("TERM"), "dumb")
}

const shutdownTimeout = 5 * time.Second
