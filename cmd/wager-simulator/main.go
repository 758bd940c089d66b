package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/shared/config"
	"github.com/radieske/lucky-wager-poc/internal/shared/logger"
	"github.com/radieske/lucky-wager-poc/internal/shared/metrics"
	"github.com/radieske/lucky-wager-poc/internal/wager-simulator/client"
	"github.com/radieske/lucky-wager-poc/internal/wager-simulator/player"
)

var (
	// Métricas Prometheus das rodadas simuladas
	rounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_rounds_total",
		Help: "Rodadas completas por resultado",
	}, []string{"result"})
	roundErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_round_errors_total",
		Help: "Rodadas que falharam",
	})
	paidOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_payout_lamports_total",
		Help: "Lamports pagos aos jogadores simulados",
	})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(rounds, roundErrors, paidOut)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := client.New(cfg.WagerServiceURL)
	sim := &player.Simulator{
		Log:       log,
		API:       api,
		ProgramID: cfg.ProgramID,
		Funds:     cfg.FundsKeys[0],
		Rent:      cfg.Rent(),
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		_, err := api.Funds(ctx)
		return err
	})
	log.Info("simulator (metrics) running", zap.String("addr", metricsSrv.Addr))

	if cfg.SimBankroll > 0 {
		if err := sim.Bankroll(ctx, cfg.SimBankroll); err != nil {
			log.Fatal("bankroll airdrop failed (wager-service must run with ENV=local)", zap.Error(err))
		}
		log.Info("funds bankrolled", zap.String("funds", sim.Funds.String()), zap.Uint64("lamports", cfg.SimBankroll))
	}

	log.Info("wager simulator started",
		zap.String("target", cfg.WagerServiceURL),
		zap.Uint64("bid", cfg.SimBid),
		zap.Duration("interval", cfg.SimInterval),
	)

	// Uma rodada completa a cada intervalo
	ticker := time.NewTicker(cfg.SimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(sctx)
			scancel()
			log.Info("wager simulator stopped")
			return
		case <-ticker.C:
			out, err := sim.Round(ctx, cfg.SimBid)
			if err != nil {
				roundErrors.Inc()
				log.Warn("round failed", zap.Error(err))
				continue
			}
			if out.Won {
				rounds.WithLabelValues("won").Inc()
				paidOut.Add(float64(out.Payout))
			} else {
				rounds.WithLabelValues("lost").Inc()
			}
		}
	}
}
