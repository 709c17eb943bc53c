package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swrcache"
)

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <event> <payload>",
		Short: "Publish one event on the realtime channel",
		Long: `Publish one event on the configured realtime channel.

Examples:
  swrctl emit todo.updated '{"key":"todo:1"}'
  swrctl emit users.changed ''`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(rootOpts, cmd, args[0], args[1])
		},
	}
	return cmd
}

func runEmit(opts *RootOptions, cmd *cobra.Command, event, payload string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	b, err := rt.binding(ctx, nil)
	if err != nil {
		return err
	}
	defer b.Disconnect()

	if err := b.Emit(ctx, event, []byte(payload)); err != nil {
		return WrapExitError(ExitFailure, "emit failed", err)
	}
	rt.log.Info("event emitted", swrcache.Fields{"event": event, "bytes": len(payload)})
	return nil
}
