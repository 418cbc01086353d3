package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prediction-auth/internal/client"
	"prediction-auth/internal/config"
	"prediction-auth/internal/repository/postgres"
	redisrepo "prediction-auth/internal/repository/redis"
	"prediction-auth/internal/service"
	"prediction-auth/internal/sms"
	"prediction-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	redisClient    *client.RedisClient
	postgresClient *client.PostgresClient
	kafkaProducer  *client.KafkaProducer

	identityRepository postgres.IdentityRepository
	sessionRepository  postgres.SessionRepository

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes all clients, repositories
// and services.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	factory.initializeRepositories()
	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("sms_sandbox", cfg.SMS.Sandbox),
	)

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if pg, err := client.NewPostgresClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
	} else {
		f.postgresClient = pg
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("postgres health check: %w", err))
		} else {
			util.Info("Postgres client initialized and healthy")
		}
	}

	// Kafka is optional; the auth flow works without the event stream.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if len(initErrors) > 0 {
		f.Close()
		return errors.Join(initErrors...)
	}
	return nil
}

func (f *Factory) initializeRepositories() {
	f.identityRepository = postgres.NewIdentityRepository(f.postgresClient, util.Get())
	f.sessionRepository = postgres.NewSessionRepository(f.postgresClient, util.Get())
}

func (f *Factory) initializeServices() {
	var events service.EventPublisher
	if f.kafkaProducer != nil {
		events = f.kafkaProducer
	}

	f.serviceFactory = service.NewServiceFactory(
		f.config,
		util.Get(),
		f.identityRepository,
		f.sessionRepository,
		redisrepo.NewOTPCache(f.redisClient),
		redisrepo.NewRateLimitCache(f.redisClient),
		redisrepo.NewSessionCache(f.redisClient),
		sms.NewClient(f.config, util.Get()),
		events,
	)
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

// Close releases all client connections. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.postgresClient != nil {
			if err := f.postgresClient.Close(); err != nil {
				util.Error("Failed to close Postgres client", util.ErrorField(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
