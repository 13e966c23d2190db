// Package app wires configuration into a running order bridge: store, cache,
// circuit registry, provider adapters, ingest service and poller.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orderbridge/internal/api"
	"orderbridge/internal/auth"
	"orderbridge/internal/breaker"
	"orderbridge/internal/config"
	"orderbridge/internal/events"
	"orderbridge/internal/ingest"
	"orderbridge/internal/integrations"
	"orderbridge/internal/integrations/careem"
	"orderbridge/internal/integrations/rest"
	"orderbridge/internal/integrations/talabat"
	"orderbridge/internal/logging"
	"orderbridge/internal/metrics"
	"orderbridge/internal/store"
	"orderbridge/internal/transform"
	"orderbridge/internal/validation"
)

// AdapterFactory builds a provider adapter over a configured client.
type AdapterFactory func(client *integrations.Client, cache integrations.SyncCache, opts ...rest.Option) *rest.Adapter

// Factories lists the providers this build knows how to talk to.
var Factories = map[string]AdapterFactory{
	careem.ProviderID:  careem.New,
	talabat.ProviderID: talabat.New,
}

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Store    store.Store
	Breakers *breaker.Registry
	Events   events.Broker
	Ingest   *ingest.Service
	Poller   *ingest.Poller
	Auth     *auth.Verifier

	closers []func() error
}

// Build assembles the service from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logging.OrNop(log)}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	a.Auth = verifier

	if err := a.openStore(ctx); err != nil {
		return err
	}

	var cache integrations.SyncCache = integrations.NewMemorySyncCache()
	a.Events = events.NewMemoryBroker()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		cache = integrations.NewRedisSyncCache(rdb, cfg.Redis.CacheTTL)
		a.Events = events.NewRedisBroker(rdb)
	}

	a.Breakers = breaker.New(
		breaker.WithLogger(a.Log),
		breaker.WithStateHook(func(name string, from, to breaker.State) {
			metrics.ObserveCircuit(name, string(from), string(to))
		}),
	)

	dir := integrations.NewDirectory()
	intervals := map[string]time.Duration{}
	for _, id := range cfg.EnabledProviders() {
		factory, ok := Factories[id]
		if !ok {
			return fmt.Errorf("provider %q is enabled but not supported", id)
		}
		p := cfg.Providers[id]
		if err := a.Breakers.Register(id, cfg.BreakerOptions(id)); err != nil {
			return err
		}
		client := integrations.NewClient(id, a.Breakers,
			integrations.WithHTTPClient(&http.Client{}),
			integrations.WithRateLimit(p.RatePerSecond, p.Burst),
			integrations.WithClientLogger(a.Log),
		)
		dir.Add(factory(client, cache, rest.WithLogger(a.Log)), p.ProviderConfig)
		intervals[id] = p.SyncInterval
		a.Log.Info("provider enabled", zap.String("provider", id), zap.String("baseUrl", p.BaseURL), zap.Duration("syncInterval", p.SyncInterval))
	}

	validator, err := validation.New(cfg.Validation)
	if err != nil {
		return err
	}
	tr, err := transform.New(
		transform.Deps{Branches: a.Store, Customers: a.Store, Products: a.Store, Validator: validator},
		transform.WithTaxRate(cfg.Transform.DefaultTaxRate),
		transform.WithConflictRetries(cfg.Transform.ConflictRetries),
		transform.WithLogger(a.Log),
	)
	if err != nil {
		return err
	}
	a.Ingest = ingest.NewService(dir, tr, a.Store, a.Log, ingest.WithEvents(a.Events))
	a.Poller = ingest.NewPoller(a.Ingest, intervals)
	return nil
}

// openStore picks Postgres when database.url is set and applies the seed file.
func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	var seed *store.Seed
	if cfg.SeedFile != "" {
		s, err := store.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		seed = s
	}

	if cfg.Database.URL == "" {
		m := store.NewMemory()
		if seed != nil {
			if err := seed.ApplyMemory(m); err != nil {
				return err
			}
		}
		a.Store = m
		a.Log.Info("using in-memory store")
		return nil
	}

	pg, err := store.NewPostgres(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if seed != nil {
		if err := seed.ApplyPostgres(ctx, pg); err != nil {
			return err
		}
	}
	a.Store = pg
	a.Log.Info("using postgres store")
	return nil
}

// Server exposes the app over HTTP.
func (a *App) Server() *api.Server {
	return &api.Server{
		Ingest:   a.Ingest,
		Breakers: a.Breakers,
		Events:   a.Events,
		Auth:     a.Auth,
		Log:      a.Log,
		Ready:    func(r *http.Request) error { return a.Store.Ping(r.Context()) },
		Settings: a.Settings(),
	}
}

// Settings is the configuration summary safe to show operators.
func (a *App) Settings() map[string]any {
	cfg := a.Config
	return map[string]any{
		"env":         cfg.App.Env,
		"httpAddr":    cfg.HTTP.Addr,
		"authMode":    cfg.Auth.Mode,
		"hasDatabase": cfg.Database.URL != "",
		"hasRedis":    cfg.Redis.URL != "",
		"providers":   cfg.EnabledProviders(),
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
