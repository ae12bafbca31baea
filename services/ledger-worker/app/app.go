package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/cache"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/database"
	kafkautils "github.com/nimeshabuddhika/ledger-command-processor/pkg/kafka"
	middleware "github.com/nimeshabuddhika/ledger-command-processor/pkg/middlewares"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/repositories"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/configs"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/handlers"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/services"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/verification"
	"go.uber.org/zap"
)

// App is the wired worker: the command consumer plus the ops HTTP server.
type App struct {
	Commands  services.KafkaCommandHandler
	OpsServer *http.Server
}

// NewApp wires dependencies and returns the app and a cleanup func releasing pools and clients.
// ctx governs the consumer's read loop; cancel it to stop reading.
func NewApp(ctx context.Context, logger *zap.Logger) (*App, func(), error) {
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	db, disconnect, err := database.New(ctx, logger, database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		ReadDSNs:   readReplicas(cfg),
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanups := []func(){disconnect}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		cleanup()
		return nil, nil, err
	}

	if err := kafkautils.InitKafkaTopics(ctx, logger, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{Topic: cfg.KafkaCommandTopic, NumPartitions: cfg.KafkaPartition, ReplicationFactor: 1},
			{Topic: cfg.KafkaReplyTopic, NumPartitions: cfg.KafkaPartition, ReplicationFactor: 1},
			{Topic: cfg.KafkaDLQTopic, NumPartitions: 1, ReplicationFactor: 1},
		},
	}); err != nil {
		cleanup()
		return nil, nil, err
	}

	verifier, closeVerifier, err := newVerifier(ctx, logger, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, closeVerifier)

	router := services.NewCommandRouter(services.RouterConfig{
		Logger:    logger,
		DB:        db,
		Clients:   repositories.NewClientRepository(cfg.BcryptCost),
		Accounts:  repositories.NewAccountRepository(),
		Movements: repositories.NewMovementRepository(),
		Loans:     repositories.NewLoanRepository(),
		Commands:  repositories.NewProcessedCommandRepository(),
		Verifier:  verification.WithMetrics(verifier),
		ClaimTTL:  cfg.ClaimTTL,
	})

	commands, err := services.NewKafkaCommandConsumer(services.KafkaCommandConfig{
		Context:   ctx,
		Logger:    logger,
		Config:    cfg,
		Processor: router,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.TraceID(), middleware.Metrics())
	handlers.NewBaseHandler(logger, db).RegisterRoutes(r)

	return &App{
		Commands:  commands,
		OpsServer: &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}, cleanup, nil
}

// readReplicas returns the replica DSNs for read-only commands. Reads stay on the primary unless
// READ_FROM_REPLICA is set, so a query right after a command always sees the command's effect.
func readReplicas(cfg *configs.Config) []string {
	if !cfg.ReadFromReplica || cfg.ReadDbAddr == "" {
		return nil
	}
	return []string{cfg.ReadDbAddr}
}

func newVerifier(ctx context.Context, logger *zap.Logger, cfg *configs.Config) (verification.Verifier, func(), error) {
	if cfg.VerificationMode == configs.VerificationModeStub {
		logger.Warn("identity_verification_stubbed", zap.Bool("valid", cfg.VerificationStubValid))
		return verification.NewStubClient(cfg.VerificationStubValid, cfg.VerificationStubDelay), func() {}, nil
	}

	redisClient, closeRedis, err := cache.New(ctx, cache.Config{
		Addr:        cfg.RedisAddr,
		ClientName:  "ledger-worker",
		ReadTimeout: cfg.VerificationTimeout + time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis_client_initialized", zap.String("addr", cfg.RedisAddr))

	limiter := pkg.NewDistributedLimiter(redisClient, "verification:rate",
		cfg.VerificationRateLimitPerSec, cfg.VerificationBurst, time.Second, cfg.VerificationMaxThrottleWait, logger)
	client := verification.NewRPCClient(verification.RPCClientConfig{
		Logger:    logger,
		Transport: verification.NewRedisTransport(redisClient, cfg.VerificationRequestChannel),
		Limiter:   limiter,
		Timeout:   cfg.VerificationTimeout,
	})
	return client, closeRedis, nil
}
