package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swrcache/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Log     string // "" keeps SWR_LOG
	Verbose bool
}

// ValidLoggers defines the allowed --log values.
var ValidLoggers = []string{"zap", "logrus", "slog"}

// NewRootCommand creates the root command for swrctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "swrctl",
		Short: "swrctl - drive a stale-while-revalidate cache from the shell",
		Long: `swrctl runs a swrcache store against an HTTP API and a realtime channel.

Settings come from SWR_* environment variables, optionally seeded from a .env file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Log != "" && !isValidLogger(opts.Log) {
				return fmt.Errorf("invalid logger %q: must be one of %v", opts.Log, ValidLoggers)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading SWR_* variables")
	cmd.PersistentFlags().StringVar(&opts.Log, "log", "", "logger (zap|logrus|slog); overrides SWR_LOG")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewEmitCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// load reads the config and applies flag overrides.
func (o *RootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Log != "" {
		cfg.Log = o.Log
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func isValidLogger(name string) bool {
	for _, l := range ValidLoggers {
		if l == name {
			return true
		}
	}
	return false
}
