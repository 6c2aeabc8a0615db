package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"realtime-ws/internal/auth"
	"realtime-ws/internal/chat"
	"realtime-ws/internal/config"
	"realtime-ws/internal/delivery"
	"realtime-ws/internal/fanout"
	"realtime-ws/internal/infrastructure/kafka"
	natsbus "realtime-ws/internal/infrastructure/nats"
	"realtime-ws/internal/infrastructure/redis"
	"realtime-ws/internal/infrastructure/storage"
	"realtime-ws/internal/observability"
	"realtime-ws/internal/offline"
	"realtime-ws/internal/presence"
	"realtime-ws/internal/ratelimit"
	"realtime-ws/internal/rooms"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}).With().Str("instance", cfg.InstanceID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("application recovered from panic")
			os.Exit(1)
		}
	}()

	logger.Info().
		Str("environment", cfg.Environment).
		Str("port", cfg.Port).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Strs("kafka_brokers", cfg.KafkaBrokers).
		Str("cors_origins", cfg.GetCORSOrigins()).
		Msg("starting realtime WebSocket server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.BadgerPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open durable store")
	}
	store := storage.NewStore(db, logger)

	var redisClient *redis.RedisClient
	if cfg.UsesRedis() {
		redisClient = redis.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
		if err := redisClient.Ping(ctx); err != nil {
			// Shared-state components degrade on their own; keep serving.
			logger.Warn().Err(err).Msg("redis connection failed")
		} else {
			logger.Info().Msg("redis connection successful")
		}
	}

	var registry presence.Registry = presence.NewMemory()
	if cfg.PresenceBackend == "redis" {
		registry = redis.NewPresenceStore(redisClient, cfg.PresenceTTL)
	}
	tracker := presence.NewTracker(registry, logger)

	var counters ratelimit.Store
	if cfg.RateLimitBackend == "redis" {
		counters = redis.NewCounterStore(redisClient)
	} else {
		memCounters := ratelimit.NewMemoryStore()
		go memCounters.Run(ctx, cfg.RateLimitWindow())
		counters = memCounters
	}
	limiter := ratelimit.NewLimiter(counters, map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionMessageSend:   {Limit: cfg.RateLimitMaxSends, Window: cfg.RateLimitWindow()},
		ratelimit.ActionRequestCreate: {Limit: cfg.RateLimitMaxCreates, Window: cfg.RateLimitWindow()},
	}, logger)

	var queueStore offline.Store = offline.NewMemoryStore(cfg.OfflineQueueTTL, cfg.OfflineQueueMaxLen)
	if cfg.OfflineQueueBackend == "redis" {
		queueStore = redis.NewOfflineStore(redisClient, cfg.OfflineQueueTTL, cfg.OfflineQueueMaxLen)
	}
	queue := offline.NewQueue(queueStore, logger)

	bus, err := newBus(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create fanout bus")
	}
	hub := rooms.NewHub(logger)
	adapter := fanout.NewAdapter(bus, hub, cfg.InstanceID, logger)
	adapter.Start(ctx)
	router := rooms.NewRouter(hub, adapter, store, cfg.ProviderRole, rooms.DefaultRetry, logger)

	kafkaProducer := kafka.NewKafkaProducer(cfg.KafkaBrokers, logger)
	chatService := chat.NewService(store, limiter, router, tracker, queue, logger, chat.WithAuditSink(kafkaProducer))

	kafkaConsumer := kafka.NewKafkaConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]string{kafka.TopicServiceRequests, kafka.TopicIdentityEvents},
		chatService,
		logger,
	)

	gate := auth.NewGate(auth.NewJWTVerifier(cfg.JWTSecret, store), cfg.HandshakeTimeout, logger)
	clientCfg := delivery.DefaultClientConfig()
	clientCfg.SendBufferSize = cfg.SendBufferSize
	clientCfg.FrameRate = cfg.ClientFrameRate
	clientCfg.FrameBurst = cfg.ClientFrameBurst
	wsManager := delivery.NewWSManager(gate, router, tracker, queue, chatService, clientCfg, logger)
	wsManager.SetPresenceAudit(kafkaProducer)

	server := delivery.NewServer(cfg, wsManager, gate, tracker, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error shutting down server")
		}
		cancel()
		if err := kafkaConsumer.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing kafka consumer")
		}
		if err := kafkaProducer.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing kafka producer")
		}
		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing fanout bus")
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis client")
			}
		}
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing durable store")
		}
	}()

	if err := kafkaConsumer.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("kafka consumer error")
	}

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// newBus picks the fanout bus from the endpoint scheme. A nil bus keeps
// delivery inside this process.
func newBus(cfg *config.Config, redisClient *redis.RedisClient, logger zerolog.Logger) (fanout.Bus, error) {
	endpoint := cfg.FanoutBusEndpoint
	switch {
	case endpoint == "" || strings.HasPrefix(endpoint, "memory://"):
		return nil, nil
	case strings.HasPrefix(endpoint, "redis://"):
		client, err := redis.NewRedisClientFromURL(endpoint)
		if err != nil {
			return nil, err
		}
		return redis.NewBus(client, cfg.FanoutChannel, logger), nil
	case strings.HasPrefix(endpoint, "nats://"):
		bus, err := natsbus.NewBus(natsbus.DefaultConfig(endpoint, cfg.FanoutChannel), logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported fanout bus endpoint %q", endpoint)
	}
}
