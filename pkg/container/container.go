package container

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/config"
	"owlfenc-backend/internal/domains/contract/handler"
	"owlfenc-backend/internal/domains/contract/job"
	"owlfenc-backend/internal/domains/contract/money"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/internal/domains/contract/service"
	infraCache "owlfenc-backend/internal/infrastructure/cache"
	"owlfenc-backend/internal/infrastructure/chat"
	"owlfenc-backend/internal/infrastructure/database"
	"owlfenc-backend/internal/infrastructure/email"
	"owlfenc-backend/internal/infrastructure/queue"
	"owlfenc-backend/internal/infrastructure/sms"
	"owlfenc-backend/internal/infrastructure/storage"
	"owlfenc-backend/pkg/cache"
	"owlfenc-backend/pkg/jwt"
)

// ========================================
// CONTAINER STRUCT
// ========================================

// Container is the root of the dependency graph shared by the API and the worker.
type Container struct {
	// ========================================
	// INFRASTRUCTURE LAYER
	// ========================================

	// DB is nil with STORE_DRIVER=memory. Redis and Queue are nil when
	// Redis is unreachable at startup.
	Config      *config.Config
	DB          *database.PostgresDB
	Redis       *infraCache.RedisClient
	Cache       cache.Cache
	Queue       *asynq.Client
	Documents   service.DocumentStore
	JWTManager  *jwt.Manager
	LinkManager *jwt.Manager

	// ========================================
	// REPOSITORY LAYER
	// ========================================

	ContractRepo repository.ContractRepository

	// ========================================
	// SERVICE LAYER
	// ========================================

	Drafts     service.DraftService
	Lifecycle  service.LifecycleService
	Signatures service.SignatureService
	Delivery   service.DeliveryService
	Query      service.QueryService
	AutoSave   *service.AutoSaveRegistry

	// ========================================
	// HANDLER LAYER
	// ========================================

	ContractHandler *handler.ContractHandler
	SigningHandler  *handler.SigningHandler
}

// ========================================
// CONSTRUCTOR: BUILD CONTAINER
// ========================================

// NewContainer builds the graph in dependency order:
// config, infrastructure, repositories, services, handlers.
func NewContainer() (*Container, error) {
	log.Info().Msg("[Container] Initializing")

	c := &Container{}

	// STEP 1: CONFIG
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg

	// STEP 2: INFRASTRUCTURE
	if err := c.initInfrastructure(); err != nil {
		c.Cleanup()
		return nil, err
	}

	// STEP 3: REPOSITORIES
	c.initRepositories()

	// STEP 4: SERVICES
	c.initServices()

	// STEP 5: HANDLERS
	c.initHandlers()

	log.Info().
		Str("store", cfg.Store.Driver).
		Bool("redis", c.Redis != nil).
		Msg("[Container] Initialized")
	return c, nil
}

// ========================================
// STEP 2: INFRASTRUCTURE
// ========================================

func (c *Container) initInfrastructure() error {
	cfg := c.Config
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database
	if cfg.Store.Driver == "postgres" {
		db := database.NewPostgresDB(cfg.DBConfig())
		if err := db.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		if err := db.HealthCheck(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("database health check failed: %w", err)
		}
		c.DB = db
	}

	// Redis: list cache and task queue. Optional.
	c.Cache = cache.NopCache{}
	if cfg.Redis.Host != "" {
		rc := infraCache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
		if err := rc.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("[Container] Redis unavailable, running without cache and queue")
		} else {
			c.Redis = rc
			c.Cache = rc
			c.Queue = queue.NewClient(cfg.Redis)
		}
	}

	// Document storage
	if cfg.MinIO.Endpoint != "" {
		docs, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("failed to init minio storage: %w", err)
		}
		c.Documents = docs
	} else {
		docs, err := storage.NewLocalStorage(cfg.MinIO.LocalDir, "")
		if err != nil {
			return fmt.Errorf("failed to init local storage: %w", err)
		}
		c.Documents = docs
	}

	c.JWTManager = jwt.NewManager(cfg.JWT.Secret)
	c.LinkManager = jwt.NewManager(cfg.Signing.LinkSecret)
	return nil
}

// ========================================
// STEP 3: REPOSITORIES
// ========================================

func (c *Container) initRepositories() {
	if c.DB != nil {
		c.ContractRepo = repository.NewPostgresContractRepository(c.DB.Pool)
		return
	}
	log.Warn().Msg("[Container] Using in-memory contract store, data is lost on restart")
	c.ContractRepo = repository.NewMemoryContractRepository()
}

// ========================================
// STEP 4: SERVICES
// ========================================

func (c *Container) initServices() {
	cfg := c.Config

	c.Delivery = service.NewDeliveryService(c.ContractRepo, service.NewChannelProviders(
		newEmailService(cfg.Email),
		newSMSService(cfg.SMS),
		newChatService(cfg.Chat),
	))

	var notifier service.CompletionNotifier
	if c.Queue != nil {
		notifier = job.NewQueueNotifier(c.Queue)
	} else {
		notifier = job.NewInlineNotifier(c.Delivery)
	}

	c.Signatures = service.NewSignatureService(c.ContractRepo, c.LinkManager, notifier, c.Cache, service.SignatureConfig{
		BaseURL: cfg.Signing.BaseURL,
		LinkTTL: cfg.Signing.LinkTTL,
	})

	normalizer := money.NewNormalizer(cfg.Contract.CentsThreshold, cfg.Contract.Ceiling)
	c.Drafts = service.NewDraftService(c.ContractRepo, normalizer, c.Cache)
	c.Lifecycle = service.NewLifecycleService(c.ContractRepo, service.NewSnapshotRenderer(), c.Documents, c.Signatures, c.Cache)
	c.Query = service.NewQueryService(c.ContractRepo, c.Cache)
	c.AutoSave = service.NewAutoSaveRegistry(c.Drafts, cfg.Contract.AutoSaveDebounce, cfg.Contract.AutoSaveIdleTTL)
}

func newEmailService(cfg config.EmailConfig) email.EmailService {
	if cfg.Provider == "smtp" {
		return email.NewSMTPEmailService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		})
	}
	log.Warn().Msg("[Container] Using mock email sender")
	return email.NewMockEmailService()
}

func newSMSService(cfg config.SMSConfig) sms.SMSService {
	if cfg.Provider == "twilio" {
		return sms.NewTwilioSMSService(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber)
	}
	log.Warn().Msg("[Container] Using mock SMS sender")
	return sms.NewMockSMSService()
}

func newChatService(cfg config.ChatConfig) chat.ChatService {
	if cfg.WebhookURL != "" {
		return chat.NewWebhookChatService(cfg.WebhookURL, cfg.Token)
	}
	return chat.NewMockChatService()
}

// ========================================
// STEP 5: HANDLERS
// ========================================

func (c *Container) initHandlers() {
	c.ContractHandler = handler.NewContractHandler(c.Drafts, c.AutoSave, c.Lifecycle, c.Signatures, c.Delivery, c.Query)
	c.SigningHandler = handler.NewSigningHandler(c.Signatures, c.Config.Signing.WebhookSecret)
}

// ========================================
// CLEANUP
// ========================================

// Cleanup releases connections in reverse order. Safe to call on a partially
// built container.
func (c *Container) Cleanup() {
	log.Info().Msg("[Container] Cleaning up")

	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			log.Error().Err(err).Msg("[Container] Failed to close queue client")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("[Container] Failed to close redis")
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Error().Err(err).Msg("[Container] Failed to close database")
		}
	}
}
