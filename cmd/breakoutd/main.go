package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/quantdyne/breakout/internal/breakout"
	"github.com/quantdyne/breakout/internal/broker"
	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/engine"
	"github.com/quantdyne/breakout/internal/logger"
	"github.com/quantdyne/breakout/internal/messaging"
	"github.com/quantdyne/breakout/internal/telemetry"
)

const (
	modeSignal    = "signal"
	modePositions = "positions"
	modeOrders    = "orders"
	modeAll       = "all"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	mode := cmd.String("mode")

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	store, err := config.NewStore(configPath, log)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := store.Snapshot()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	venue := broker.NewBinanceBroker(cfg.Broker)
	retrier := broker.NewRetrier(venue, cfg.Loop.MaxRetries,
		time.Duration(cfg.Loop.BaseDelaySeconds*float64(time.Second)), log)

	publisher := messaging.NewWebSocketPublisher(cfg.Messaging.URL, log)
	defer publisher.Close()

	var recorder *telemetry.Recorder

	if cfg.Telemetry.Enabled {
		storage, err := telemetry.NewDuckDBStorage(cfg.Telemetry.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open telemetry storage: %w", err)
		}
		defer storage.Close()

		recorder = telemetry.NewRecorder(storage, cfg.Telemetry.QueueSize, cfg.Telemetry.BatchSize,
			time.Duration(cfg.Telemetry.FlushSeconds*float64(time.Second)), log)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		store.Run(ctx)
	}()

	if recorder != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()
	}

	if mode == modeSignal || mode == modeAll {
		gate := breakout.NewGate(cfg.Symbol, publisher, log)

		monitor, err := engine.NewSignalMonitor(store, retrier, gate, recorder, log)
		if err != nil {
			stop()
			wg.Wait()

			return fmt.Errorf("failed to create signal monitor: %w", err)
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()
	}

	if mode == modePositions || mode == modeAll {
		monitor := engine.NewPositionMonitor(store, retrier, log)

		wg.Add(1)

		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()
	}

	if mode == modeOrders || mode == modeAll {
		monitor := engine.NewOrderMonitor(store, retrier, log)

		wg.Add(1)

		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()
	}

	log.Info("breakoutd started",
		zap.String("symbol", cfg.Symbol),
		zap.String("mode", mode))

	wg.Wait()
	log.Info("breakoutd stopped")

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "breakoutd",
		Usage: "Single-instrument breakout trading daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Which monitors to run: signal, positions, orders, or all",
				Value:   modeAll,
				Validator: func(v string) error {
					switch v {
					case modeSignal, modePositions, modeOrders, modeAll:
						return nil
					default:
						return fmt.Errorf("unknown mode %q", v)
					}
				},
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
