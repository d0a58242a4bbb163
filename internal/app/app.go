// Package app wires the application together. Everything is passed
// explicitly; there are no package-level singletons to reach for.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/ledger"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/coinpilot/coinpilot/internal/strategy"
)

// App is the assembled dependency graph.
type App struct {
	Config     config.Config
	Log        zerolog.Logger
	Store      *ledger.Store
	Broker     broker.Broker
	Controller *strategy.Controller
	Positions  *service.PositionService
	Snapshots  *service.SnapshotService
}

// New opens the ledger, builds the venue client and assembles controller
// and services. Parameter precedence: defaults, then the stored preset for
// (strategy, symbol), then the config file's overrides.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var venue broker.Broker
	switch cfg.Broker.Venue {
	case "bybit":
		venue = broker.NewBybit(broker.BybitConfig{
			APIKey:    cfg.Broker.APIKey,
			APISecret: cfg.Broker.APISecret,
			Testnet:   cfg.Broker.Testnet,
			Sizing:    cfg.Broker.Sizing,
		}, log)
	case "paper":
		data := broker.NewBybit(broker.BybitConfig{Testnet: cfg.Broker.Testnet, Sizing: cfg.Broker.Sizing}, log)
		venue = broker.NewPaper(data, cfg.Broker.Sizing, cfg.Broker.PaperCash, log)
	default:
		store.Close()
		return nil, fmt.Errorf("unknown broker venue %q", cfg.Broker.Venue)
	}

	kind := strategy.Kind(cfg.Strategy.Kind)
	params, err := resolveParams(ctx, store, kind, cfg.Strategy.Overrides)
	if err != nil {
		store.Close()
		return nil, err
	}

	controller, err := strategy.NewController(kind, params, venue, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Broker:     venue,
		Controller: controller,
		Positions:  service.NewPositionService(store, venue, log),
		Snapshots: service.NewSnapshotService(store, venue, cfg.Broker.Sizing.QuoteCoin,
			time.Duration(cfg.Snapshots.IntervalMinutes)*time.Minute,
			time.Duration(cfg.Snapshots.RetentionDays)*24*time.Hour, log),
	}, nil
}

// resolveParams layers defaults, the saved preset and the config overrides.
func resolveParams(ctx context.Context, store *ledger.Store, kind strategy.Kind, overrides map[string]any) (strategy.Params, error) {
	params, err := strategy.DefaultParams(kind)
	if err != nil {
		return nil, err
	}

	// The config may rename the symbol, which changes which preset applies.
	symbol := params.Symbol()
	if withOverrides, err := params.Apply(overrides); err == nil && len(overrides) > 0 {
		symbol = withOverrides.Symbol()
	}

	preset, err := store.GetPreset(ctx, string(kind), symbol)
	if err == nil {
		patch, perr := preset.Overrides()
		if perr != nil {
			return nil, perr
		}
		if params, err = params.Apply(patch); err != nil {
			return nil, fmt.Errorf("stored preset %s/%s: %w", kind, symbol, err)
		}
	} else if !errors.Is(err, ledger.ErrPresetNotFound) {
		return nil, err
	}

	if len(overrides) > 0 {
		if params, err = params.Apply(overrides); err != nil {
			return nil, fmt.Errorf("config strategy params: %w", err)
		}
	}
	return params, nil
}

// Close tears the graph down in reverse dependency order.
func (a *App) Close() error {
	return a.Store.Close()
}
