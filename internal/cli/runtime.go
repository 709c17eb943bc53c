package cli

import (
	"context"
	"encoding/json"
	"errors"
	stdslog "log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/channel"
	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/config"
	asynchook "github.com/unkn0wn-root/swrcache/hooks/async"
	"github.com/unkn0wn-root/swrcache/sloghooks"
)

// runtime is the set of long-lived objects one command works with.
type runtime struct {
	cfg       *config.Config
	log       swrcache.Logger
	flush     func() error
	rdb       *goredis.Client
	hooks     *asynchook.Hooks
	store     *swrcache.Store[json.RawMessage]
	transport channel.Transport
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	log, flush, err := cfg.Logger()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	rt := &runtime{cfg: cfg, log: log, flush: flush, rdb: cfg.RedisClient()}
	rt.hooks = asynchook.New(sloghooks.New(stdslog.Default(), sloghooks.Options{
		CoalescedEvery: 100,
		DiscardedEvery: 10,
		EvictedEvery:   10,
	}), 1, 256)

	var rdb goredis.UniversalClient
	if rt.rdb != nil {
		rdb = rt.rdb
	}
	p, err := cfg.RetainProvider(ctx, rdb)
	if err != nil {
		rt.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to build retained tier", err)
	}
	opts := config.StoreOptions(cfg, config.BoundedCodec[json.RawMessage](cfg, codec.JSON[json.RawMessage]{}), p, log, rt.hooks)
	rt.store, err = swrcache.New(opts)
	if err != nil {
		rt.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to build store", err)
	}
	rt.transport, err = cfg.ChannelTransport(rdb)
	if err != nil {
		rt.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to build channel transport", err)
	}
	return rt, nil
}

// binding connects the configured channel with the cache translator.
func (rt *runtime) binding(ctx context.Context, events []string) (*channel.Binding, error) {
	if rt.transport == nil {
		return nil, NewExitError(ExitCommandError, "no realtime channel configured (SWR_CHANNEL=none)")
	}
	b, err := channel.New(rt.transport, channel.Options{
		Translator:  NewStaleTranslator(rt.store, rt.log),
		Events:      events,
		Logger:      rt.log,
		DialTimeout: rt.cfg.DialTimeout,
		OnStateChange: func(from, to channel.State, err error) {
			rt.log.Info("channel state", swrcache.Fields{"from": from.String(), "to": to.String(), "err": err})
		},
	})
	if err != nil {
		return nil, err
	}
	if err := b.Connect(ctx); err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect channel", err)
	}
	return b, nil
}

func (rt *runtime) Close(ctx context.Context) {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close(ctx))
	}
	if rt.rdb != nil {
		errs = append(errs, rt.rdb.Close())
	}
	rt.hooks.Close()
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("shutdown", swrcache.Fields{"err": err})
	}
	_ = rt.flush()
}
