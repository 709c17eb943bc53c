package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/transport/restyfetch"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Listen string // "" => SWR_INSPECT_ADDR
}

// ErrorResponse is the body of every non-2xx inspect response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Serve the cache contents over HTTP",
		Long: `Run a store, bind the realtime channel if one is configured, and serve
its entries over HTTP:

  GET  /entries                    all entries
  GET  /entry?key=todo:1           one entry
  POST /refetch?key=users@0/10     query the API through the cache
  POST /invalidate?prefix=todo     invalidate (or &stale=true to only mark stale)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address; overrides SWR_INSPECT_ADDR")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
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
	addr := opts.Listen
	if addr == "" {
		addr = cfg.InspectAddr
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if rt.transport != nil && len(cfg.Events) > 0 {
		b, err := rt.binding(ctx, cfg.Events)
		if err != nil {
			return err
		}
		defer b.Disconnect()
	}

	var fetch swrcache.Fetcher[json.RawMessage]
	if cfg.APIBaseURL != "" {
		client, err := cfg.Fetch()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build HTTP client", err)
		}
		defer client.Close()
		fetch = restyfetch.Fetcher[json.RawMessage](client, nil)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewInspectRouter(rt.store, fetch),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	rt.log.Info("inspect listening", swrcache.Fields{"addr": addr})

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "inspect server failed", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewInspectRouter serves store over HTTP. fetch may be nil, in which case
// /refetch answers 503.
func NewInspectRouter(store *swrcache.Store[json.RawMessage], fetch swrcache.Fetcher[json.RawMessage]) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health-check", func(c *gin.Context) {
		c.JSON(http.StatusOK, "ok")
	})

	r.GET("/entries", func(c *gin.Context) {
		keys := store.Keys()
		out := make([]EntryView, 0, len(keys))
		for _, k := range keys {
			if e, ok := store.Get(k); ok {
				out = append(out, newEntryView(e))
			}
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/entry", func(c *gin.Context) {
		key, ok := keyParam(c)
		if !ok {
			return
		}
		e, found := store.Get(key)
		if !found {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: "not_found", Error: "no entry for " + key.String()})
			return
		}
		c.JSON(http.StatusOK, newEntryView(e))
	})

	r.POST("/refetch", func(c *gin.Context) {
		if fetch == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Code: "no_fetcher", Error: "SWR_API_BASE_URL is not set"})
			return
		}
		key, ok := keyParam(c)
		if !ok {
			return
		}
		e, err := store.Query(c.Request.Context(), key, fetch)
		switch {
		case errors.Is(err, swrcache.ErrPrecondition):
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "precondition", Error: err.Error()})
		case err != nil:
			c.AbortWithStatusJSON(http.StatusBadGateway, ErrorResponse{Code: "fetch_failed", Error: err.Error()})
		default:
			c.JSON(http.StatusOK, newEntryView(e))
		}
	})

	r.POST("/invalidate", func(c *gin.Context) {
		var prefix []string
		if p := c.Query("prefix"); p != "" {
			prefix = strings.Split(p, ":")
		}
		var n int
		if c.Query("stale") == "true" {
			n = store.MarkStale(prefix...)
		} else {
			n = store.Invalidate(prefix...)
		}
		c.JSON(http.StatusOK, gin.H{"matched": n})
	})

	return r
}

func keyParam(c *gin.Context) (swrcache.Key, bool) {
	key, err := swrcache.ParseKey(c.Query("key"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_key", Error: err.Error()})
		return swrcache.Key{}, false
	}
	return key, true
}
