package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clinicore/clinical-governance-backend/internal/domain/attestation"
	"github.com/clinicore/clinical-governance-backend/internal/domain/compliance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/content"
	"github.com/clinicore/clinical-governance-backend/internal/domain/governance"
	"github.com/clinicore/clinical-governance-backend/internal/domain/rules"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/cache"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/config"
	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/repository"
	"github.com/clinicore/clinical-governance-backend/internal/metrics"
	auditsvc "github.com/clinicore/clinical-governance-backend/internal/service/audit"
	"github.com/clinicore/clinical-governance-backend/internal/service/decision"
	"github.com/clinicore/clinical-governance-backend/internal/service/ruleengine"
)

const startupTimeout = 10 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		bundlePath = flag.String("bundle", "", "Path to the clinical content bundle to load at startup")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger, *bundlePath); err != nil {
		logger.Fatal("governance core exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, bundlePath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newDatabasePool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	meterProvider, err := newMeterProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("meter provider shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(cfg.Audit.ServiceName)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	ruleRepo := repository.NewRuleRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	contentRepo := repository.NewContentRepository(pool)

	// Clinical content: bundles are validated wholesale before anything
	// in them becomes visible to the evaluators.
	contentRegistry := content.NewRegistry()
	if bundlePath != "" {
		if err := loadContentBundle(logger, contentRegistry, contentRepo, bundlePath); err != nil {
			return fmt.Errorf("loading content bundle: %w", err)
		}
	}

	safetyLogger := auditsvc.NewSafetyLogger(logger, auditRepo, registry)

	ruleCache := cache.NewRuleCache(cache.WithTTL(cfg.Rules.CacheTTL))
	if cfg.Redis.Enabled {
		invalidator, err := cache.NewInvalidator(&cfg.Redis, ruleCache, logger)
		if err != nil {
			return fmt.Errorf("connecting invalidator: %w", err)
		}
		invalidator.Start(ctx)
		defer invalidator.Close() //nolint:errcheck
	}

	businessEngine := ruleengine.NewEngine(logger, ruleRepo, ruleCache, registry,
		ruleengine.WithSecurityReporter(safetyLogger))
	hybridEngine := ruleengine.NewHybridEngine(logger, compliance.NewRegistry(), businessEngine)
	gate := attestation.NewGate(attestation.WithFreshnessThreshold(cfg.Attestation.LabFreshness))

	if err := selfCheck(ctx, hybridEngine, gate); err != nil {
		return fmt.Errorf("startup self-check: %w", err)
	}

	qualityPool := decision.NewQualityPool(logger, registry,
		cfg.Decision.QualityWorkers, cfg.Decision.QualityQueueSize)
	qualityPool.Start(ctx)
	defer qualityPool.Stop()
	go watchQuality(ctx, logger, qualityPool)

	logger.Info("governance core ready",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Bool("distributed_invalidation", cfg.Redis.Enabled),
		zap.Bool("content_loaded", contentRegistry.Loaded()))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	return nil
}

// selfCheck proves the legal tier is wired before the process accepts
// work: an access without consent must block on LGPD-001, and an empty
// patient record must demand attestation. A pass here means a mis-built
// registry cannot reach production silently.
func selfCheck(ctx context.Context, hybrid *ruleengine.HybridEngine, gate *attestation.Gate) error {
	rctx, err := rules.NewContext(compliance.ComplianceContext{
		ActorID:    "startup-probe",
		PatientID:  "synthetic",
		AccessType: compliance.AccessView,
	}).Build()
	if err != nil {
		return err
	}

	result := hybrid.EvaluateRules(ctx, rctx)
	if result.Allowed || result.BlockedByRule != "LGPD-001" {
		return fmt.Errorf("consent enforcement probe failed: allowed=%v blocked_by=%q",
			result.Allowed, result.BlockedByRule)
	}

	if probe := gate.CheckAttestation(attestation.GateInput{}); !probe.Required {
		return fmt.Errorf("attestation probe failed: empty patient record passed the gate")
	}
	return nil
}

// watchQuality surfaces failed asynchronous quality verdicts in the log
// stream until shutdown.
func watchQuality(ctx context.Context, logger *zap.Logger, pool *decision.QualityPool) {
	for {
		select {
		case <-ctx.Done():
			return
		case verdict, ok := <-pool.Verdicts():
			if !ok {
				return
			}
			if len(verdict.Failed) > 0 {
				logger.Warn("quality review flagged a decision",
					zap.String("session_id", verdict.Task.SessionID.String()),
					zap.String("stage", verdict.Task.Stage),
					zap.Strings("failed", verdict.Failed))
			}
		}
	}
}

// newMeterProvider installs the SDK meter provider globally so the
// instrument registry records into something real. Metrics export to the
// process's stdout on a periodic reader; a collector endpoint can replace
// the exporter without touching the instruments.
func newMeterProvider(cfg *config.Config) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.Audit.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment))),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

func newLogger(level, environment string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	return zapCfg.Build()
}

func newDatabasePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// loadContentBundle validates and indexes a bundle, warning when its
// governance state says it should not be served at full trust.
func loadContentBundle(logger *zap.Logger, registry *content.Registry, repo *repository.ContentRepository, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	bundle, err := content.LoadBundle(raw)
	if err != nil {
		return err
	}

	status := runtimeStatus(logger, repo, bundle.Manifest.BundleVersion)
	if status != governance.StatusActiveSignedOff {
		logger.Warn("content bundle is not fully governed, serving degraded",
			zap.String("bundle_version", bundle.Manifest.BundleVersion),
			zap.String("status", string(status)))
	}

	registry.Index(bundle)
	logger.Info("content bundle indexed",
		zap.String("bundle_version", bundle.Manifest.BundleVersion),
		zap.Int("rules", registry.Count()))
	return nil
}

func runtimeStatus(logger *zap.Logger, repo *repository.ContentRepository, version string) governance.RuntimeContentStatus {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	meta, err := repo.GetMetadata(ctx, version)
	if err != nil {
		logger.Warn("bundle metadata unavailable", zap.Error(err))
		return governance.StatusDegradedUnknown
	}
	if signoff, err := repo.GetSignoff(ctx, version); err != nil {
		logger.Warn("signoff record unavailable", zap.Error(err))
		meta.SignoffStatus = governance.SignoffPending
	} else if signoff.Expired(time.Now()) {
		meta.SignoffStatus = governance.SignoffExpired
	} else {
		meta.SignoffStatus = signoff.Status
	}
	return governance.GetRuntimeContentStatus(meta)
}
