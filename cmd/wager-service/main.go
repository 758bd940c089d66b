package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/ledger/memstore"
	"github.com/radieske/lucky-wager-poc/internal/ledger/sqlstore"
	"github.com/radieske/lucky-wager-poc/internal/ledger/system"
	sharedcache "github.com/radieske/lucky-wager-poc/internal/shared/cache"
	"github.com/radieske/lucky-wager-poc/internal/shared/config"
	"github.com/radieske/lucky-wager-poc/internal/shared/db"
	"github.com/radieske/lucky-wager-poc/internal/shared/kafka"
	"github.com/radieske/lucky-wager-poc/internal/shared/logger"
	"github.com/radieske/lucky-wager-poc/internal/shared/metrics"
	"github.com/radieske/lucky-wager-poc/internal/shared/tracing"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/cache"
	httpapi "github.com/radieske/lucky-wager-poc/internal/wager-service/http"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/producer"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/pubsub"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/replay"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/submit"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/ws"
	"github.com/radieske/lucky-wager-poc/internal/wager/outcome"
	"github.com/radieske/lucky-wager-poc/internal/wager/processor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.Env, cfg.OTELEndpoint)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
		zap.String("ledger_driver", cfg.LedgerDriver),
		zap.String("program_id", cfg.ProgramID.String()),
	)

	// Armazenamento do ledger conforme LEDGER_DRIVER
	store, sqlDB, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("ledger store", zap.Error(err))
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}
	log.Info("ledger store ready", zap.String("driver", cfg.LedgerDriver))

	// Runtime com system program e programa de apostas
	rent := cfg.Rent()
	exec := ledger.NewExecutor(log.Named("ledger"), store, rent, ledger.NewSystemClock(cfg.LedgerGenesis))
	exec.Register(ledger.SystemProgramID, system.Program{})

	opts := []processor.Option{processor.WithLogger(log.Named("wager"))}
	var committer httpapi.Committer
	if cfg.EntropySeed != "" {
		src := outcome.NewSeededSource([]byte(cfg.EntropySeed))
		opts = append(opts, processor.WithEntropySource(src))
		committer = src
		log.Info("seeded entropy enabled", zap.String("commitment", src.Commitment()))
	}
	proc := processor.New(cfg.ProgramID,
		processor.NewAllowList(cfg.FundsKeys...),
		processor.NewAllowList(cfg.AdminKeys...),
		opts...,
	)
	exec.Register(cfg.ProgramID, proc)

	// Contas Funds precisam existir (do programa, isentas de aluguel) antes da primeira jogada
	genesis := make([]*ledger.Account, 0, len(cfg.FundsKeys))
	for _, k := range cfg.FundsKeys {
		genesis = append(genesis, &ledger.Account{Key: k, Owner: cfg.ProgramID, Lamports: rent.MinimumBalance(0)})
	}
	created, err := ledger.EnsureAccounts(ctx, store, genesis...)
	if err != nil {
		log.Fatal("genesis funds accounts", zap.Error(err))
	}
	for _, k := range created {
		log.Info("funds account created", zap.String("pubkey", k.String()))
	}

	// Redis: replay entre instâncias, cache de registros e broadcast
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("redis connected")
	}

	guard, err := replay.New(cfg.ReplayCacheSize, redisClient)
	if err != nil {
		log.Fatal("replay guard", zap.Error(err))
	}

	// Métricas Prometheus
	executed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_tx_executed_total", Help: "transações confirmadas por instrução"}, []string{"instruction"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_tx_rejected_total", Help: "transações rejeitadas por motivo"}, []string{"reason"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(executed, rejected, errorsBy)

	svc := &submit.Service{
		Log:         log.Named("submit"),
		Exec:        exec,
		ProgramID:   cfg.ProgramID,
		Replay:      guard,
		MaxLifetime: cfg.TxMaxLifetime,
		Channel:     cfg.RedisPubSubChannel,
		OnExecuted:  func(ix string) { executed.WithLabelValues(ix).Inc() },
		OnRejected:  func(reason string) { rejected.WithLabelValues(reason).Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Kafka: eventos de apostas e saques
	var kafkaWriters []*kafka.Writer
	if cfg.KafkaBrokers != "" {
		played := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWagerPlayed)
		settled := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWagerSettled)
		withdrawn := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicFundsWithdrawn)
		kafkaWriters = append(kafkaWriters, played, settled, withdrawn)
		svc.Publisher = producer.NewKafkaPublisher(played, settled, withdrawn)
		log.Info("kafka writers ready", zap.Strings("topics", []string{cfg.TopicWagerPlayed, cfg.TopicWagerSettled, cfg.TopicFundsWithdrawn}))
	}
	defer func() {
		for _, w := range kafkaWriters {
			_ = w.Close()
		}
	}()

	api := &httpapi.API{
		Log:       log.Named("http"),
		Submit:    svc,
		Accounts:  store,
		ProgramID: cfg.ProgramID,
		Funds:     cfg.FundsKeys,
		Committer: committer,
	}

	if redisClient != nil {
		wagerCache := cache.New(redisClient, cfg.RecordCacheTTL)
		svc.Cache = wagerCache
		svc.Broadcaster = pubsub.NewRedisBroadcaster(redisClient)
		api.Cache = wagerCache

		// Hub WebSocket alimentado pelo Redis Pub/Sub (todas as instâncias recebem)
		hub := ws.NewHub(func(r *http.Request) bool { return true })
		ws.StartRedisSubscriber(ctx, log.Named("ws"), redisClient, cfg.RedisPubSubChannel, hub)
		api.WS = http.HandlerFunc(hub.HandleWS)
	}

	if cfg.Env == "local" {
		api.Faucet = func(ctx context.Context, key ledger.Pubkey, lamports uint64) (*ledger.Account, error) {
			return ledger.Airdrop(ctx, store, key, lamports)
		}
		log.Warn("airdrop faucet enabled (ENV=local)")
	}

	// Servidor de métricas e health
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if sqlDB != nil {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("ledger db: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	_ = metricsSrv.Shutdown(sctx)
	log.Info("wager-service stopped")
}

// openStore devolve o store do ledger e, quando houver, a conexão SQL por trás dele
func openStore(ctx context.Context, cfg config.Config) (ledger.Store, *sql.DB, error) {
	var (
		conn    *sql.DB
		dialect sqlstore.Dialect
		err     error
	)
	switch cfg.LedgerDriver {
	case config.DriverMemory:
		return memstore.New(), nil, nil
	case config.DriverSQLite:
		conn, err = db.OpenSQLite(cfg.SQLitePath)
		dialect = sqlstore.SQLite
	default:
		conn, err = db.ConnectPostgres(cfg.PostgresDSN)
		dialect = sqlstore.Postgres
	}
	if err != nil {
		return nil, nil, err
	}
	s := sqlstore.New(conn, dialect)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return s, conn, nil
}
