package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coinpilot/coinpilot/internal/app"
	"github.com/coinpilot/coinpilot/internal/backtest"
	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/metrics"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/coinpilot/coinpilot/internal/strategy"
)

const version = "v1.2.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	var configPath string

	rootCmd := &cobra.Command{
		Use:     "coinpilot",
		Short:   "Automated spot-crypto trading decision engine",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "coinpilot.yaml", "Path to YAML config")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newStatusCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the live trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			metricsSrv := metrics.Serve(cfg.MetricsAddr)
			defer metricsSrv.Close()
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")

			if err := a.Controller.Start(ctx); err != nil {
				return err
			}
			go a.Snapshots.Run(ctx)
			if c := cfg.AutoClose; c.MaxLossPct != 0 || c.MinProfitPct != 0 || c.MaxDaysOpen != 0 {
				go runAutoClose(ctx, a, log)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			log.Info().Str("signal", s.String()).Msg("shutting down")

			cancel()
			a.Controller.Stop()
			return nil
		},
	}
}

func runAutoClose(ctx context.Context, a *app.App, log zerolog.Logger) {
	criteria := service.AutoCloseCriteria{
		MaxLossPct:   a.Config.AutoClose.MaxLossPct,
		MinProfitPct: a.Config.AutoClose.MinProfitPct,
		MaxDaysOpen:  a.Config.AutoClose.MaxDaysOpen,
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := a.Positions.AutoClose(ctx, criteria)
			if err != nil {
				log.Error().Err(err).Msg("auto-close sweep failed")
				continue
			}
			for _, p := range closed {
				log.Info().Str("symbol", p.Symbol).Float64("pnl", p.UnrealizedPnL).
					Str("reason", p.CloseReason).Msg("auto-closed position")
			}
		}
	}
}

func newBacktestCmd() *cobra.Command {
	var (
		kindName string
		cash     float64
		feeRate  float64
	)
	cmd := &cobra.Command{
		Use:   "backtest <candles.csv>",
		Short: "Replay a strategy over historical candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bars, err := backtest.LoadCSV(args[0])
			if err != nil {
				return err
			}
			kind := strategy.Kind(kindName)
			params, err := strategy.DefaultParams(kind)
			if err != nil {
				return err
			}
			res, err := backtest.Run(kind, params, bars, backtest.Config{InitialCash: cash, FeeRate: feeRate})
			if err != nil {
				return err
			}

			fmt.Printf("Bars:          %d\n", len(bars))
			fmt.Printf("Fills:         %d (%d round trips)\n", len(res.Fills), res.Rounds)
			fmt.Printf("Final equity:  %.2f (%.2f%%)\n", res.FinalEquity, res.ReturnPct)
			fmt.Printf("Max drawdown:  %.2f%%\n", res.MaxDrawdownPct)
			fmt.Printf("Win rate:      %.1f%%\n", res.WinRatePct)
			for _, f := range res.Fills {
				line := fmt.Sprintf("  %-4s %10.2f x %.6f  %s", f.Side, f.Price, f.Quantity, f.Reason)
				if f.Side == "sell" {
					line += fmt.Sprintf("  (%+.2f%%)", f.PnLPct)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindName, "strategy", "regime_trend", "Strategy kind to replay")
	cmd.Flags().Float64Var(&cash, "cash", 1000, "Starting cash")
	cmd.Flags().Float64Var(&feeRate, "fee", 0.0006, "Taker fee rate")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the ledger position summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, newLogger("warn"))
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Positions.Summary(cmd.Context())
			if err != nil {
				return err
			}
			open, err := a.Positions.ListOpen(cmd.Context())
			if err != nil {
				return err
			}

			out := struct {
				Summary any `json:"summary"`
				Open    any `json:"open_positions"`
			}{summary, open}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
