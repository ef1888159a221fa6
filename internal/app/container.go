package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/bridge"
	"github.com/acme/click-to-call-bridge/internal/callback"
	"github.com/acme/click-to-call-bridge/internal/config"
	"github.com/acme/click-to-call-bridge/internal/infra/db"
	"github.com/acme/click-to-call-bridge/internal/infra/redis"
	"github.com/acme/click-to-call-bridge/internal/queue"
	"github.com/acme/click-to-call-bridge/internal/repository"
	pgrepo "github.com/acme/click-to-call-bridge/internal/repository/postgres"
	scyllarepo "github.com/acme/click-to-call-bridge/internal/repository/scylla"
	"github.com/acme/click-to-call-bridge/internal/scheduler"
	"github.com/acme/click-to-call-bridge/internal/service/concurrency"
	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/internal/signaling/sipua"
	"github.com/acme/click-to-call-bridge/internal/telephony"
	telephonyMock "github.com/acme/click-to-call-bridge/internal/telephony/mock"
	"github.com/acme/click-to-call-bridge/internal/telephony/web"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// Registry is the process-wide set of attempts awaiting a callback.
	Registry *callback.Registry

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *repositories
		publishers   *publishers
		providers    *providers
		limiters     *limiters
		services     *services
		signaling    *sipua.Server
		reaper       *scheduler.Reaper
	}
}

type repositories struct {
	Attempts repository.AttemptRepository
	Stale    repository.StaleAttemptStore
	Events   repository.AttemptEventStore
}

type publishers struct {
	Outcome *queue.OutcomePublisher
}

type providers struct {
	Telephony telephony.Provider
}

type limiters struct {
	Owner *concurrency.Limiter
}

type services struct {
	Bridge *bridge.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: lg, Registry: callback.NewRegistry(lg)}

	if c.Postgres, err = db.NewPostgres(ctx, cfg.Postgres, cfg.App.Name); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap postgres: %w", err))
	}
	if c.Scylla, err = db.NewScylla(cfg.Scylla); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap scylla: %w", err))
	}
	if c.Redis, err = redis.NewClient(ctx, cfg.Redis); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap redis: %w", err))
	}
	if c.Kafka, err = queue.NewKafka(cfg.Kafka); err != nil {
		return nil, c.abort(fmt.Errorf("bootstrap kafka: %w", err))
	}

	return c, nil
}

func (c *Container) abort(err error) error {
	_ = c.Close(context.Background())
	return err
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		cfg := c.Config

		attempts := pgrepo.NewAttemptRepository(c.Postgres.DB())
		repos := &repositories{
			Attempts: attempts,
			Stale:    attempts,
			Events:   scyllarepo.NewEventStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Outcome: queue.NewOutcomePublisher(c.Kafka, cfg.Kafka.OutcomeTopic),
		}

		provider, err := c.newProvider()
		if err != nil {
			c.components.err = err
			return
		}
		provs := &providers{Telephony: provider}

		lims := &limiters{
			Owner: concurrency.NewLimiter(c.Redis.Inner(), cfg.Throttle.PerOwner, cfg.Throttle.SlotTTL),
		}

		svcs := &services{
			Bridge: bridge.NewService(bridge.Dependencies{
				Provider:      provs.Telephony,
				Registry:      c.Registry,
				Attempts:      repos.Attempts,
				Events:        repos.Events,
				Publisher:     pubs.Outcome,
				Limiter:       lims.Owner,
				Config:        cfg.CallBridge,
				PerOwnerLimit: cfg.Throttle.PerOwner,
				Logger:        c.Logger,
			}),
		}

		if cfg.SIP.Enabled {
			sipServer, err := sipua.NewServer(cfg.SIP, c.Registry, c.Logger)
			if err != nil {
				c.components.err = fmt.Errorf("bootstrap sip: %w", err)
				return
			}
			c.components.signaling = sipServer
		}

		if cfg.Reaper.Enabled {
			c.components.reaper = scheduler.NewReaper(repos.Stale, pubs.Outcome, cfg.Reaper, cfg.CallBridge.RendezvousDeadline, c.Logger)
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.providers = provs
		c.components.limiters = lims
		c.components.services = svcs
	})
	return c.components.err
}

func (c *Container) newProvider() (telephony.Provider, error) {
	cfg := c.Config.CallBridge
	switch cfg.ProviderName {
	case "", "web":
		return web.NewClient(cfg, nil, c.Logger), nil
	case "mock":
		return telephonyMock.NewProvider(cfg, func(call signaling.InboundCall) {
			c.Registry.Offer(call)
		}), nil
	default:
		return nil, fmt.Errorf("unknown telephony provider %q", cfg.ProviderName)
	}
}

// Init builds the lazily initialised components and reports any failure.
func (c *Container) Init() error {
	return c.initComponents()
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	_ = c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	_ = c.initComponents()
	return c.components.services
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	_ = c.initComponents()
	return c.components.providers
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	_ = c.initComponents()
	return c.components.limiters
}

// Signaling returns the SIP listener, or nil when it is disabled.
func (c *Container) Signaling() *sipua.Server {
	_ = c.initComponents()
	return c.components.signaling
}

// Reaper returns the stale attempt sweeper, or nil when it is disabled.
func (c *Container) Reaper() *scheduler.Reaper {
	_ = c.initComponents()
	return c.components.reaper
}

// EnsureTopics ensures the outcome topic exists.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.OutcomeTopic}, c.Config.Kafka.Partitions, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if s := c.components.signaling; s != nil {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sip close: %w", err))
		}
	}
	if p := c.components.publishers; p != nil && p.Outcome != nil {
		if err := p.Outcome.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		c.Scylla.Close()
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if pending := c.Registry.Len(); pending > 0 {
		c.Logger.Warn("closing with attempts still awaiting a callback", zap.Int("pending", pending))
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
