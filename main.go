package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sambeau/sorrel/config"
	"github.com/sambeau/sorrel/pkg/script"
	"github.com/sambeau/sorrel/server"
)

// Version is set at build time via -ldflags
var Version = "0.1.0-dev"

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point, designed for testability (Mat Ryer pattern)
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	root := newRootCommand(stdout, stderr, getenv)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// serveOptions holds the flags shared by the root and serve commands.
type serveOptions struct {
	configPath string
	dev        bool
	port       int
}

func (o *serveOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configPath, "config", "", "path to config file (default: auto-detect)")
	cmd.Flags().BoolVar(&o.dev, "dev", false, "development mode (HTTP on localhost, fault positions, fault log)")
	cmd.Flags().IntVar(&o.port, "port", 0, "override listen port")
}

func newRootCommand(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "sorrel",
		Short: "Sorrel - a server for classic script pages",
		Long: `Sorrel serves classic server pages (.asp) whose code blocks are Lua.

Config resolution:
  1. --config flag
  2. SORREL_CONFIG environment variable
  3. ./sorrel.yaml or ./sorrel.yml
  4. built-in defaults (pages served from ./site)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, stdout, stderr, getenv)
		},
	}
	opts.register(cmd)

	cmd.AddCommand(newServeCommand(stdout, stderr, getenv))
	cmd.AddCommand(newCheckCommand(getenv))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newServeCommand(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Start the web server (default command)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, stdout, stderr, getenv)
		},
	}
	opts.register(cmd)
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, stdout, stderr io.Writer, getenv func(string) string) error {
	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configFile, err := config.LoadWithPath(opts.configPath, getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Apply CLI overrides
	if opts.dev {
		cfg.Server.Dev = true
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	// Full validation after CLI overrides applied
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	srv, err := server.New(cfg, configFile, stdout, stderr)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

func newCheckCommand(getenv func(string) string) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check <page>...",
		Short: "Preprocess and compile pages, reporting syntax errors",
		Long: `Check preprocesses each page with its includes and compiles it in both
plain and instrumented mode. Diagnostics are printed in the same format the
server uses for faults. The command fails if any page does not compile.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadWithPath(configPath, getenv)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runCheck(cfg, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (default: auto-detect)")
	return cmd
}

// checkLogger prints internal compiler messages during check.
type checkLogger struct{ w io.Writer }

func (l checkLogger) Warnf(format string, args ...any) {
	fmt.Fprintf(l.w, "[WARN] "+format+"\n", args...)
}

func (l checkLogger) Errorf(format string, args ...any) {
	fmt.Fprintf(l.w, "[ERROR] "+format+"\n", args...)
}

func runCheck(cfg *config.Config, pages []string, stdout, stderr io.Writer) error {
	registry, err := server.NewRegistry(cfg, checkLogger{stderr})
	if err != nil {
		return err
	}

	failed := 0
	for _, page := range pages {
		path, err := filepath.Abs(page)
		if err != nil {
			return err
		}
		unit := registry.Unit(path)

		ok := true
		for _, mode := range []script.CompileMode{script.Plain, script.Instrumented} {
			switch cu := unit.Compile(mode).(type) {
			case script.CompileFailure:
				ok = false
				fmt.Fprintf(stdout, "%s (%s):\n", page, mode)
				faults := make([]script.RuntimeFault, len(cu.Diagnostics))
				for i, d := range cu.Diagnostics {
					faults[i] = script.RuntimeFault{
						Kind:    script.KindSyntax,
						Code:    d.Code,
						Message: d.Message,
						File:    d.File,
						Span:    d.Span,
					}
				}
				script.WriteFaults(stdout, faults)
			case script.InternalFailure:
				ok = false
				fmt.Fprintf(stdout, "%s (%s): internal compiler error: %v\n", page, mode, cu.Cause)
			}
		}
		if ok {
			fmt.Fprintf(stdout, "%s: ok\n", page)
		} else {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d page(s) failed to compile", failed, len(pages))
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sorrel version %s\n", Version)
		},
	}
}
