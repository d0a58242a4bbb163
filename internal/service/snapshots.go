package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/broker"
	"github.com/coinpilot/coinpilot/internal/ledger"
)

// SnapshotService periodically values the portfolio into the snapshot table
// and prunes rows past retention. The decision log is exempt from pruning.
type SnapshotService struct {
	store     *ledger.Store
	broker    broker.Broker
	quoteCoin string
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger
}

func NewSnapshotService(store *ledger.Store, b broker.Broker, quoteCoin string, interval, retention time.Duration, log zerolog.Logger) *SnapshotService {
	if quoteCoin == "" {
		quoteCoin = "USDT"
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &SnapshotService{
		store:     store,
		broker:    b,
		quoteCoin: quoteCoin,
		interval:  interval,
		retention: retention,
		log:       log.With().Str("component", "snapshots").Logger(),
	}
}

// Record values open positions at their current marks plus free quote cash
// and writes one snapshot row.
func (s *SnapshotService) Record(ctx context.Context) error {
	open, err := s.store.ListPositions(ctx, ledger.PositionOpen)
	if err != nil {
		return err
	}

	var positionsValue, unrealized float64
	details := make(map[string]any, len(open))
	for _, p := range open {
		value := p.CurrentPrice * p.Quantity
		positionsValue += value
		unrealized += p.UnrealizedPnL
		details[p.Symbol] = map[string]float64{
			"value": value,
			"pnl":   p.UnrealizedPnL,
		}
	}

	cash := 0.0
	if balances, err := s.broker.GetBalance(ctx); err == nil {
		cash = balances[s.quoteCoin].Available
	} else {
		s.log.Warn().Err(err).Msg("balance unavailable for snapshot, recording positions only")
	}

	_, err = s.store.AddSnapshot(ctx, ledger.Snapshot{
		TotalValue:     cash + positionsValue,
		CashValue:      cash,
		PositionsValue: positionsValue,
		UnrealizedPnL:  unrealized,
	}, details)
	return err
}

// Run records on the configured interval until ctx is cancelled, pruning
// expired snapshots after each write.
func (s *SnapshotService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("snapshot loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Record(ctx); err != nil {
				s.log.Error().Err(err).Msg("snapshot failed")
				continue
			}
			if s.retention > 0 {
				if n, err := s.store.PruneSnapshots(ctx, s.retention); err != nil {
					s.log.Error().Err(err).Msg("snapshot prune failed")
				} else if n > 0 {
					s.log.Debug().Int64("removed", n).Msg("pruned snapshots")
				}
			}
		}
	}
}
