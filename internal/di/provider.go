package di

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/slawa19/GEOv0-sub001/internal/config"
	"github.com/slawa19/GEOv0-sub001/internal/core/clearing"
	"github.com/slawa19/GEOv0-sub001/internal/core/integrity"
	"github.com/slawa19/GEOv0-sub001/internal/core/invariant"
	"github.com/slawa19/GEOv0-sub001/internal/core/payment"
	"github.com/slawa19/GEOv0-sub001/internal/core/recovery"
	"github.com/slawa19/GEOv0-sub001/internal/core/signature"
	"github.com/slawa19/GEOv0-sub001/internal/core/store"
	"github.com/slawa19/GEOv0-sub001/internal/core/trustline"
	"github.com/slawa19/GEOv0-sub001/internal/dlock"
	"github.com/slawa19/GEOv0-sub001/internal/events"
	"github.com/slawa19/GEOv0-sub001/internal/storage/memstore"
	"github.com/slawa19/GEOv0-sub001/internal/storage/postgres"
)

// Provider registers the ledger service builders and exposes typed
// accessors over the registry.
type Provider struct {
	registry *Registry
	config   *config.Config
}

// NewProvider creates a new service provider.
func NewProvider(registry *Registry, cfg *config.Config) *Provider {
	return &Provider{registry: registry, config: cfg}
}

// resolve is a generic typed lookup used by builders and accessors.
func resolve[T any](deps Resolver, name string) (T, error) {
	var zero T
	svc, err := deps.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("di: service %q has type %T", name, svc)
	}
	return typed, nil
}

// RegisterAll registers every service builder. Services are built
// lazily on first resolve, so a command that only needs the integrity
// service never opens a Redis connection.
func (p *Provider) RegisterAll() error {
	cfg := p.config

	p.registry.Provide(svcLogger, func(Resolver) (any, error) {
		return buildLogger(cfg.Log)
	})

	p.registry.Provide(svcStore, func(deps Resolver) (any, error) {
		if cfg.Node.Standalone || cfg.Storage.Backend == "memory" {
			return memstore.New(), nil
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return postgres.Open(context.Background(), postgres.Config{
			URL:            cfg.Storage.URL,
			MaxConns:       cfg.Storage.MaxConns,
			RetryAttempts:  uint64(cfg.Storage.RetryAttempts),
			RetryBaseDelay: cfg.Storage.RetryBase,
			RetryMaxDelay:  cfg.Storage.RetryMax,
		}, log)
	})

	p.registry.Provide(svcChecker, func(Resolver) (any, error) {
		return invariant.NewChecker(), nil
	})

	p.registry.Provide(svcVerifier, func(Resolver) (any, error) {
		if cfg.Node.Standalone {
			return signature.Verifier(signature.NopVerifier{}), nil
		}
		return signature.Verifier(signature.NewVerifier()), nil
	})

	p.registry.Provide(svcDistributedLock, func(Resolver) (any, error) {
		if cfg.Node.Standalone || cfg.Redis.Addr == "" {
			return dlock.Provider(dlock.NopProvider{}), nil
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return dlock.Provider(dlock.NewRedisProvider(client, dlock.Config{
			TTL:  cfg.Clearing.LockTTL,
			Wait: cfg.Clearing.LockWait,
		})), nil
	})

	p.registry.Provide(svcEventPublisher, func(deps Resolver) (any, error) {
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return events.Publisher(events.NewBus(log)), nil
	})

	p.registry.Provide(svcRouter, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		return payment.Router(payment.NewGraphRouter(st)), nil
	})

	p.registry.Provide(svcPaymentEngine, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		checker, err := resolve[*invariant.Checker](deps, svcChecker)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return payment.NewEngine(st, checker, payment.Config{
			PrepareLockTTL: cfg.Payment.PrepareLockTTL,
			MaxHops:        cfg.Payment.MaxHops,
			MaxPaths:       cfg.Payment.MaxPaths,
		}, log), nil
	})

	p.registry.Provide(svcPaymentService, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		engine, err := resolve[*payment.Engine](deps, svcPaymentEngine)
		if err != nil {
			return nil, err
		}
		router, err := resolve[payment.Router](deps, svcRouter)
		if err != nil {
			return nil, err
		}
		verifier, err := resolve[signature.Verifier](deps, svcVerifier)
		if err != nil {
			return nil, err
		}
		publisher, err := resolve[events.Publisher](deps, svcEventPublisher)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return payment.NewService(st, engine, router, verifier, publisher,
			payment.ServiceConfig{
				MultipathEnabled:     cfg.Features.MultipathEnabled,
				FullMultipathEnabled: cfg.Features.FullMultipathEnabled,
			}, log), nil
	})

	p.registry.Provide(svcClearingEngine, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		checker, err := resolve[*invariant.Checker](deps, svcChecker)
		if err != nil {
			return nil, err
		}
		locks, err := resolve[dlock.Provider](deps, svcDistributedLock)
		if err != nil {
			return nil, err
		}
		publisher, err := resolve[events.Publisher](deps, svcEventPublisher)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return clearing.NewEngine(st, checker, locks, publisher, log), nil
	})

	p.registry.Provide(svcIntegrityService, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		checker, err := resolve[*invariant.Checker](deps, svcChecker)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return integrity.NewService(st, checker, log), nil
	})

	p.registry.Provide(svcTrustlineService, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return trustline.NewService(st, log), nil
	})

	p.registry.Provide(svcRecoveryLoop, func(deps Resolver) (any, error) {
		st, err := resolve[store.Store](deps, svcStore)
		if err != nil {
			return nil, err
		}
		engine, err := resolve[*payment.Engine](deps, svcPaymentEngine)
		if err != nil {
			return nil, err
		}
		log, err := resolve[*zap.Logger](deps, svcLogger)
		if err != nil {
			return nil, err
		}
		return recovery.NewLoop(st, engine, recovery.Config{
			Interval:     cfg.Recovery.Interval,
			StuckTimeout: cfg.Recovery.StuckTimeout,
		}, log), nil
	})

	return nil
}

// Typed accessors over the registry.

func (p *Provider) Logger() (*zap.Logger, error) {
	return resolve[*zap.Logger](p.registry, svcLogger)
}

func (p *Provider) Store() (store.Store, error) {
	return resolve[store.Store](p.registry, svcStore)
}

func (p *Provider) Checker() (*invariant.Checker, error) {
	return resolve[*invariant.Checker](p.registry, svcChecker)
}

func (p *Provider) PaymentEngine() (*payment.Engine, error) {
	return resolve[*payment.Engine](p.registry, svcPaymentEngine)
}

func (p *Provider) PaymentService() (*payment.Service, error) {
	return resolve[*payment.Service](p.registry, svcPaymentService)
}

func (p *Provider) ClearingEngine() (*clearing.Engine, error) {
	return resolve[*clearing.Engine](p.registry, svcClearingEngine)
}

func (p *Provider) IntegrityService() (*integrity.Service, error) {
	return resolve[*integrity.Service](p.registry, svcIntegrityService)
}

func (p *Provider) TrustlineService() (*trustline.Service, error) {
	return resolve[*trustline.Service](p.registry, svcTrustlineService)
}

func (p *Provider) RecoveryLoop() (*recovery.Loop, error) {
	return resolve[*recovery.Loop](p.registry, svcRecoveryLoop)
}

// GetConfig returns the configuration the provider was built with.
func (p *Provider) GetConfig() *config.Config {
	return p.config
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = cfg.Encoding
	return zcfg.Build()
}
