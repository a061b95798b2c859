package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Overmuse/alpaca/internal/feed"
	"github.com/Overmuse/alpaca/internal/journal"
	"github.com/Overmuse/alpaca/internal/metrics"
	"github.com/Overmuse/alpaca/internal/service"
	"github.com/Overmuse/alpaca/internal/session"
	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func streamCmd(a *app) *cobra.Command {
	var streams []string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow the account stream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(streams) > 0 {
				if err := utils.ValidateStreams(streams, len(utils.StreamSet)); err != nil {
					return err
				}
				a.cfg.Stream.Streams = streams
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStream(ctx, a)
		},
	}

	cmd.Flags().StringSliceVar(&streams, "streams", nil, "Streams to listen to (trade_updates, account_updates)")
	return cmd
}

// runStream follows the feed until ctx ends or the feed gives up.
func runStream(ctx context.Context, a *app) error {
	cfg := a.cfg

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(metrics.Config{Registry: registry})

	health := newStreamHealth()
	f := feed.New(feed.Config{
		Params: session.Params{
			Endpoint:  cfg.Alpaca.StreamURL,
			KeyID:     cfg.Alpaca.KeyID,
			SecretKey: cfg.Alpaca.SecretKey,
			Streams:   cfg.Stream.Streams,
		},
		Options: session.Options{
			HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
			VerifyListening:      cfg.Stream.VerifyListening,
			TolerateDecodeErrors: cfg.Stream.TolerateDecodeErrors,
			PingPeriod:           cfg.Stream.PingPeriod,
			Metrics:              collector,
		},
		InitialBackoff: cfg.Stream.InitialBackoff,
		MaxBackoff:     cfg.Stream.MaxBackoff,
		MaxRetries:     cfg.Stream.MaxRetries,
		BufferSize:     cfg.Stream.BufferSize,
		OnStateChange:  health.set,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		MaxStreamsAllowed: len(utils.StreamSet),
		BufferSize:        cfg.Stream.BufferSize,
	})
	if err := dispatcher.StartDispatching(runCtx, f.Messages()); err != nil {
		return err
	}

	var consumers sync.WaitGroup

	printer, err := dispatcher.Subscribe(cfg.Stream.Streams)
	if err != nil {
		return err
	}
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		logMessages(log.With().Str("component", "stream").Logger(), printer.Messages())
	}()

	if cfg.Journal.Path != "" {
		j, err := journal.Open(runCtx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()

		recorder, err := dispatcher.Subscribe(cfg.Stream.Streams)
		if err != nil {
			return err
		}
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			journalMessages(runCtx, j, recorder.Messages())
		}()
	}

	var servers sync.WaitGroup
	if cfg.Server.MetricsAddr != "" {
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := serveHTTP(runCtx, cfg.Server.MetricsAddr, newRouter(registry, health)); err != nil {
				log.Error().Err(err).Msg("http server failed")
				cancel()
			}
		}()
	}
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc health server starting")
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := serveGRPC(runCtx, lis, health); err != nil {
				log.Error().Err(err).Msg("grpc server failed")
				cancel()
			}
		}()
	}

	log.Info().Object("config", cfg).Msg("stream starting")
	err = f.Run(runCtx)

	cancel()
	<-dispatcher.Done()
	consumers.Wait()
	servers.Wait()
	log.Info().Msg("stream stopped")
	return err
}

// logMessages logs every message until messages is closed.
func logMessages(logger zerolog.Logger, messages <-chan stream.Message) {
	for msg := range messages {
		switch m := msg.(type) {
		case *stream.TradeUpdate:
			event := logger.Info().
				Str("event", string(m.Event.Type())).
				Str("order", m.Order.ID.String()).
				Str("symbol", m.Order.Symbol).
				Str("side", string(m.Order.Side)).
				Str("status", string(m.Order.Status))
			switch e := m.Event.(type) {
			case stream.FillEvent:
				event = event.Stringer("price", e.Price).Int64("qty", e.Qty).Int64("positionQty", e.PositionQty)
			case stream.PartialFillEvent:
				event = event.Stringer("price", e.Price).Int64("qty", e.Qty).Int64("positionQty", e.PositionQty)
			}
			event.Msg("trade update")
		case *stream.AccountUpdate:
			logger.Info().
				Str("id", m.ID).
				Str("currency", m.Currency).
				Stringer("cash", m.Cash).
				Stringer("cashWithdrawable", m.CashWithdrawable).
				Msg("account update")
		default:
			logger.Debug().Str("stream", msg.Stream()).Msg("control message")
		}
	}
}

// journalMessages records every message until messages is closed. Write failures are
// logged and the message is skipped.
func journalMessages(ctx context.Context, j *journal.Journal, messages <-chan stream.Message) {
	for msg := range messages {
		// The dispatcher closes messages after ctx ends; the remaining writes still
		// need a live context.
		if err := j.Record(context.WithoutCancel(ctx), msg); err != nil {
			log.Error().Err(err).Str("stream", msg.Stream()).Msg("journal write failed")
		}
	}
}
