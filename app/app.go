package app

import (
	"context"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/app/types"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/aggregate"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/fees"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/fetcher"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/ingest"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/logging"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/metadata"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/redis"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/retry"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/scheduler"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/snapshot"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/utils"
)

// Initialize wires the fee service: durable store, history fetcher, ingestion
// runner, aggregator and optional redis / S3 / cron extras. Missing required
// configuration is fatal at startup, not at first request.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	recipient := os.Getenv("FEE_RECIPIENT")
	if recipient == "" {
		logger.Fatal("FEE_RECIPIENT is required")
	}
	historyEndpoint := os.Getenv("TXHISTORY_ENDPOINT")
	if historyEndpoint == "" {
		logger.Fatal("TXHISTORY_ENDPOINT is required")
	}

	store, err := fees.New(ctx, logger, utils.Env("FEES_DB", "defituna_fees"))
	if err != nil {
		logger.Fatal("Unable to initialize the fee database", zap.Error(err))
	}

	source := fetcher.New(fetcher.Opts{
		Endpoint:  historyEndpoint,
		APIKey:    os.Getenv("TXHISTORY_API_KEY"),
		Recipient: recipient,
		PageLimit: utils.EnvInt("TXHISTORY_PAGE_LIMIT", 100),
		RPS:       utils.EnvInt("TXHISTORY_RPS", 10),
		Retry:     retry.DefaultConfig(),
		Logger:    logger,
	})

	// Redis is optional; without it the service runs without live job events.
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Unable to connect to redis, job events disabled", zap.Error(err))
			redisClient = nil
		}
	}

	runner := ingest.NewRunner(store, source, redisClient, logger)

	resolver := metadata.NewHTTPResolver(
		utils.Env("TOKEN_REGISTRY_ENDPOINT", "https://tokens.jup.ag"),
		logger,
	)

	exporter := snapshot.New(snapshot.Opts{
		Dir:      utils.Env("SNAPSHOT_DIR", "public/data"),
		Filename: utils.Env("SNAPSHOT_FILENAME", "fee-snapshot.json"),
		S3Bucket: os.Getenv("SNAPSHOT_S3_BUCKET"),
		S3Key:    os.Getenv("SNAPSHOT_S3_KEY"),
		S3Client: newS3Client(ctx, logger),
		Logger:   logger,
	})

	aggregator := aggregate.New(store, resolver, exporter, logger)

	return &types.App{
		Store:       store,
		Runner:      runner,
		Aggregator:  aggregator,
		Scheduler:   newScheduler(ctx, logger, runner, aggregator),
		RedisClient: redisClient,
		Logger:      logger,
	}
}

// newS3Client builds the snapshot mirror client when a bucket is configured.
func newS3Client(ctx context.Context, logger *zap.Logger) *s3.Client {
	if os.Getenv("SNAPSHOT_S3_BUCKET") == "" {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(loadCtx)
	if err != nil {
		logger.Warn("Unable to load AWS config, snapshot mirroring disabled", zap.Error(err))
		return nil
	}

	return s3.NewFromConfig(cfg)
}

// newScheduler registers cron triggers when configured. No cron specs means
// no scheduler: runs are admin-triggered only.
func newScheduler(ctx context.Context, logger *zap.Logger, runner *ingest.Runner, aggregator *aggregate.Aggregator) *scheduler.Scheduler {
	ingestSpec := os.Getenv("INGEST_CRON")
	aggregateSpec := os.Getenv("AGGREGATE_CRON")
	if ingestSpec == "" && aggregateSpec == "" {
		return nil
	}

	sched := scheduler.New(logger)
	if ingestSpec != "" {
		if err := sched.AddIngest(ctx, ingestSpec, runner); err != nil {
			logger.Fatal("Invalid INGEST_CRON", zap.String("spec", ingestSpec), zap.Error(err))
		}
	}
	if aggregateSpec != "" {
		if err := sched.AddAggregate(ctx, aggregateSpec, aggregator); err != nil {
			logger.Fatal("Invalid AGGREGATE_CRON", zap.String("spec", aggregateSpec), zap.Error(err))
		}
	}

	return sched
}
