package main

import (
	"context"
	"fmt"
	"io"

	"github.com/tcriess/walkingbuddy/api"
	"github.com/tcriess/walkingbuddy/auth"
	"github.com/tcriess/walkingbuddy/config"
	"github.com/tcriess/walkingbuddy/filter"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/persistence"
	"github.com/tcriess/walkingbuddy/rooms"
	"github.com/tcriess/walkingbuddy/types"
	"github.com/tcriess/walkingbuddy/ws"
)

const userAgent = "walkingbuddy-cli"

// app is the composition root: it owns the single reconciler of the process and everything it talks to.
type app struct {
	cfg        *config.Config
	client     *api.Client
	store      persistence.Store
	cache      *persistence.LocalCache
	session    *auth.Session
	reconciler *rooms.Reconciler
	view       *terminalView
}

func newApp(cfg *config.Config, out io.Writer, filterSource string) (*app, error) {
	globals.SetLogLevel(cfg.LogLevel)

	ua := cfg.BackendConfig.UserAgent
	if ua == "" {
		ua = userAgent
	}
	client, err := api.NewClient(cfg.BackendConfig.URL, ua)
	if err != nil {
		return nil, err
	}
	roomFilter, err := filter.Compile(filterSource)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	policy, err := rooms.ParsePolicy(cfg.SyncConfig.JoinFailurePolicy)
	if err != nil {
		return nil, err
	}
	store, err := persistence.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open cache: %w", err)
	}
	names, err := rooms.NewNameResolver(client, cfg.NamesConfig.CacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	cache := persistence.NewLocalCache(store, nil)
	a := &app{
		cfg:     cfg,
		client:  client,
		store:   store,
		cache:   cache,
		session: auth.NewSession(client, cache),
	}
	a.view = newTerminalView(out, roomFilter, a.session.User)
	a.reconciler = rooms.New(client, a.cache, a.view, rooms.Options{
		Self:              a.session.User,
		Names:             names,
		JoinFailurePolicy: policy,
	})
	return a, nil
}

// verify determines the local user; a missing session is not an error for read-only commands.
func (a *app) verify(ctx context.Context) *types.User {
	user, source := a.session.Verify(ctx)
	globals.AppLogger.Debug("local user", "source", source, "user", user)
	return user
}

func (a *app) pushURL() string {
	if a.cfg.PushConfig.URL != "" {
		return a.cfg.PushConfig.URL
	}
	return a.client.PushURL()
}

func (a *app) listener() *ws.Listener {
	l := ws.NewListener(a.pushURL(), a.client.Jar(), a.reconciler, a.cfg.PushConfig.ReconnectDelay)
	l.OnStateChange(a.view.PushState)
	return l
}

func (a *app) Close() {
	a.reconciler.Close()
	if err := a.store.Close(); err != nil {
		globals.AppLogger.Error("could not close cache", "error", err)
	}
}
