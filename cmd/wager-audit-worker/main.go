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
	"github.com/radieske/lucky-wager-poc/internal/shared/db"
	"github.com/radieske/lucky-wager-poc/internal/shared/kafka"
	"github.com/radieske/lucky-wager-poc/internal/shared/logger"
	"github.com/radieske/lucky-wager-poc/internal/shared/metrics"
	"github.com/radieske/lucky-wager-poc/internal/wager-audit/consumer"
	"github.com/radieske/lucky-wager-poc/internal/wager-audit/repository"
)

const groupID = "wager-audit"

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

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	repo := repository.NewPostgresRepo(pg)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal("audit schema", zap.Error(err))
	}

	// Um consumer group para os três tópicos de eventos
	reader := kafka.NewGroupReader(cfg.KafkaBrokers, groupID, cfg.TopicWagerPlayed, cfg.TopicWagerSettled, cfg.TopicFundsWithdrawn)
	defer reader.Close()

	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWagerDLQ)
	defer dlq.Close()

	// Métricas Prometheus por tópico e estágio
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_audit_messages_consumed_total", Help: "mensagens consumidas"}, []string{"topic"})
	persist := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_audit_db_writes_total", Help: "eventos persistidos"}, []string{"topic"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_audit_dlq_total", Help: "mensagens enviadas para a DLQ"}, []string{"reason"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, persist, dead, errorsBy)

	proc := &consumer.Processor{
		Log:    log,
		Reader: reader,
		Repo:   repo,
		DLQ:    dlq,
		Topics: consumer.Topics{
			Played:    cfg.TopicWagerPlayed,
			Settled:   cfg.TopicWagerSettled,
			Withdrawn: cfg.TopicFundsWithdrawn,
		},
		OnConsumed: func(topic string) { consumed.WithLabelValues(topic).Inc() },
		OnPersist:  func(topic string) { persist.WithLabelValues(topic).Inc() },
		OnDLQ:      func(reason string) { dead.WithLabelValues(reason).Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	log.Info("wager-audit-worker started",
		zap.String("group", groupID),
		zap.Strings("topics", []string{cfg.TopicWagerPlayed, cfg.TopicWagerSettled, cfg.TopicFundsWithdrawn}),
		zap.String("dlq", cfg.TopicWagerDLQ),
	)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = metricsSrv.Shutdown(sctx)
	log.Info("wager-audit-worker stopped")
}
