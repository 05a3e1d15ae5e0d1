// Package cli implements the modelhost command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"modelhost/internal/config"
)

// Options are the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogJSON    bool
	Addr       string

	Stdout io.Writer
	Stderr io.Writer
}

func defaultOptions() *Options {
	return &Options{
		ConfigPath: envStr("MODELHOST_CONFIG", ""),
		LogLevel:   envStr("MODELHOST_LOG_LEVEL", ""),
		LogJSON:    envBool("MODELHOST_LOG_JSON", false),
		Addr:       envStr("MODELHOST_ADDR", ""),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// NewRootCmd builds the command tree around opts.
func NewRootCmd(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "modelhost",
		Short:         "Local model lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Config file (.yaml, .json or .toml; defaults MODELHOST_CONFIG)")
	pf.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug|info|warn|error|off (overrides the config file)")
	pf.BoolVar(&opts.LogJSON, "log-json", opts.LogJSON, "Write logs as JSON instead of console text")
	pf.StringVar(&opts.Addr, "addr", opts.Addr, "HTTP listen address for serve, server address for status")

	root.AddCommand(
		newServeCmd(opts),
		newCatalogCmd(opts),
		newDownloadCmd(opts),
		newRemoveCmd(opts),
		newMatchCmd(opts),
		newStatusCmd(opts),
		newCompletionCmd(root, opts),
	)
	return root
}

func newCompletionCmd(root *cobra.Command, opts *Options) *cobra.Command {
	c := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	c.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(opts.Stdout) }})
	c.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(opts.Stdout) }})
	c.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(opts.Stdout, true) }})
	return c
}

// loadConfig reads the config file when one is given. With a file the
// returned Source persists model selection back to it.
func (o *Options) loadConfig() (config.Config, *config.FileSource, error) {
	var (
		cfg config.Config
		src *config.FileSource
	)
	if o.ConfigPath != "" {
		fs, err := config.NewFileSource(o.ConfigPath)
		if err != nil {
			return cfg, nil, fmt.Errorf("load config: %w", err)
		}
		src = fs
		cfg = fs.Config()
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Addr != "" {
		cfg.Addr = o.Addr
	}
	cfg = cfg.ApplyDefaults()
	return cfg, src, cfg.Validate()
}

// Main runs the CLI with os.Args and returns the process exit code.
func Main() int {
	return run(os.Args[1:], defaultOptions())
}

func run(args []string, opts *Options) int {
	root := NewRootCmd(opts)
	if len(args) == 0 {
		_ = root.Help()
		return 2
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(opts.Stderr, "error:", err)
		return 1
	}
	return 0
}
