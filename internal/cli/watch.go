package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swrcache/channel"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Events []string
}

// EventView is one printed inbound event.
type EventView struct {
	Event   string    `json:"event"`
	Bytes   int       `json:"bytes"`
	Payload string    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print realtime events and apply them to a cache",
		Long: `Connect the configured realtime channel and print every inbound event.

Events are also translated into cache invalidations, exactly as an
application embedding the store would. The command exits when the channel
drops; reconnecting is left to the caller (rerun the command).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Events, "event", nil, "event to listen to (repeatable); adds to SWR_EVENTS")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.load()
	if err != nil {
		return err
	}
	events := append(append([]string(nil), cfg.Events...), opts.Events...)
	if len(events) == 0 {
		return NewExitError(ExitCommandError, "no events to watch: set SWR_EVENTS or pass --event")
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	b, err := rt.binding(ctx, events)
	if err != nil {
		return err
	}
	defer b.Disconnect()

	out := cmd.OutOrStdout()
	for _, ev := range events {
		if _, err := b.On(ev, func(_ context.Context, msg channel.Message) {
			_ = writeJSON(out, EventView{Event: msg.Event, Bytes: len(msg.Payload), Payload: string(msg.Payload), At: time.Now()})
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if b.State() == channel.Disconnected {
				return WrapExitError(ExitFailure, "channel lost", b.Err())
			}
		}
	}
}
