package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/transport/restyfetch"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Page int
	Size int // 0 => unpaged key
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <resource>...",
		Short: "Fetch one resource through the cache and print the entry",
		Long: `Fetch one resource through the cache and print the entry as JSON.

The resource parts form the cache key and the request path:
  swrctl get todo 1                  GET /todo/1
  swrctl get users --page 1 --size 10 GET /users?page=1&pageSize=10`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), opts, cmd, args)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 0, "page index (with --size)")
	cmd.Flags().IntVar(&opts.Size, "size", 0, "page size; 0 fetches the resource unpaged")

	return cmd
}

func runGet(ctx context.Context, opts *GetOptions, cmd *cobra.Command, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := swrcache.NewKey(args...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid resource", err)
	}
	if opts.Size != 0 || opts.Page != 0 {
		key = key.WithWindow(swrcache.Window{PageIndex: opts.Page, PageSize: opts.Size})
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

	client, err := cfg.Fetch()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build HTTP client", err)
	}
	defer client.Close()

	entry, err := rt.store.Query(ctx, key, restyfetch.Fetcher[json.RawMessage](client, nil))
	if errors.Is(err, swrcache.ErrPrecondition) {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}
	if werr := writeJSON(cmd.OutOrStdout(), newEntryView(entry)); werr != nil {
		return werr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "fetch failed", err)
	}
	return nil
}
