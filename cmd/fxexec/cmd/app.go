package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/broker/saxo"
	"github.com/rustyeddy/fxexec/broker/sim"
	"github.com/rustyeddy/fxexec/config"
	"github.com/rustyeddy/fxexec/engine"
	"github.com/rustyeddy/fxexec/internal/logging"
	"github.com/rustyeddy/fxexec/internal/metrics"
	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/signal"
)

// simEquity is the starting balance of the simulated broker.
const simEquity = 100000

// simSpreadPips is the quoted spread of the simulated broker.
const simSpreadPips = 0.5

// app is what most commands need: config, logger and the open stores.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *journal.SQLite
	source  *signal.SQLiteSource
	metrics *metrics.Metrics
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathFlag != "" {
		cfg.Journal.DBPath = dbPathFlag
	}
	return openAppWith(cfg)
}

func openAppWith(cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	source, err := signal.NewSQLiteSource(store.DB())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open signals: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		source:  source,
		metrics: metrics.New(),
	}, nil
}

func (a *app) Close() {
	_ = a.log.Sync()
	_ = a.store.Close()
}

// gateway builds the configured broker.
func (a *app) gateway(ctx context.Context) (broker.Gateway, error) {
	b := a.cfg.Broker
	switch b.Name {
	case sim.Name:
		g := sim.New(simEquity)
		g.AccountCurrency = a.cfg.Engine.AccountCurrency
		g.Seed(b.UICMap)
		g.LivePrices = true
		g.SpreadPips = simSpreadPips
		return g, nil

	case saxo.Name:
		base, err := saxo.ResolveBaseURL(b.Env, b.BaseURL)
		if err != nil {
			return nil, err
		}
		ts := saxo.TokenSource(ctx, saxo.Credentials{
			ClientID:     b.ClientID,
			ClientSecret: b.ClientSecret,
			AuthURL:      saxo.AuthURL(b.Env),
			AccessToken:  b.AccessToken,
			RefreshToken: b.RefreshToken,
		})
		return saxo.New(ctx, saxo.Config{
			BaseURL:    base,
			AccountKey: b.AccountKey,
			ClientKey:  b.ClientKey,
			Timeout:    b.Timeout,
		}, ts), nil

	default:
		return nil, fmt.Errorf("unknown broker %q", b.Name)
	}
}

func (a *app) engine(gw broker.Gateway) *engine.Engine {
	return engine.New(gw, a.store, a.source, engine.OptionsFromConfig(a.cfg),
		engine.WithLogger(a.log),
		engine.WithMetrics(a.metrics))
}
