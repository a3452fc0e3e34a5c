package main

import (
	"fmt"
	"os"

	"hassnet/cmd/hassnet/ui"
	"hassnet/config"
	"hassnet/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions carries persistent flag values and the loaded config to
// subcommands.
type rootOptions struct {
	configPath string
	debug      bool
	logFormat  string
	noColor    bool
	steps      bool

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "hassnet",
		Short:         "Manage the hassio container network",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			level, format := cfg.Log.Level, cfg.Log.Format
			if opts.debug {
				level = logging.LevelDebug
			}
			if opts.logFormat != "" {
				format = opts.logFormat
			}
			if err := logging.Configure(level, format); err != nil {
				return err
			}
			ui.ConfigureColor(opts.noColor)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.steps, "steps", false, "Print each network operation step")

	root.AddCommand(
		ensureCmd(opts),
		statusCmd(opts),
		attachCmd(opts),
		detachDefaultCmd(opts),
		cleanupCmd(opts),
	)
	return root
}
