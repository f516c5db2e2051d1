package di

import (
	"go.uber.org/zap"

	"graphkb-backend/application/ports"
	"graphkb-backend/application/services"
	domaincfg "graphkb-backend/domain/config"
	"graphkb-backend/domain/core/entities"
	"graphkb-backend/infrastructure/config"
	"graphkb-backend/infrastructure/delivery"
	"graphkb-backend/infrastructure/persistence/file"
	"graphkb-backend/infrastructure/schema"
	"graphkb-backend/infrastructure/similarity"
	"graphkb-backend/pkg/observability"
)

// embeddingDim is the dimensionality of the fallback hashing embedder
const embeddingDim = 256

// ProvideLogger creates the application logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Environment, cfg.LogLevel)
}

// ProvideTracing initializes the OTLP tracer provider when tracing is
// enabled. Returns nil when disabled; spans then go through the global
// no-op tracer.
func ProvideTracing(cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	return observability.InitTracing(observability.TracingConfig{
		ServiceName: "graphkb-backend",
		Environment: cfg.Environment,
		Endpoint:    cfg.TracingEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
}

// ProvideMetrics creates the metrics collector
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("graphkb")
}

// ProvideDomainConfig maps runtime configuration onto the domain defaults
func ProvideDomainConfig(cfg *config.Config) *domaincfg.DomainConfig {
	return cfg.DomainConfig()
}

// ProvideSchemaRegistry loads the type allow-list. Without a schema file
// every type is accepted, which keeps local development friction-free.
func ProvideSchemaRegistry(cfg *config.Config, dc *domaincfg.DomainConfig, logger *zap.Logger) (*schema.Registry, entities.TypeValidator, error) {
	if cfg.SchemaFilePath == "" {
		logger.Warn("no schema file configured, accepting all entity types")
		return nil, entities.AllowAllTypes{}, nil
	}
	registry, err := schema.NewRegistry(cfg.SchemaFilePath, []string{dc.SubscriptionNodeType}, logger)
	if err != nil {
		return nil, nil, err
	}
	return registry, registry, nil
}

// ProvideGraphRepository creates the file-backed graph repository
func ProvideGraphRepository(cfg *config.Config, logger *zap.Logger) ports.GraphRepository {
	return file.NewStore(cfg.GraphFilePath, cfg.GraphName, logger)
}

// ProvideSimilarityIndex creates the HNSW scorer with the fallback embedder
func ProvideSimilarityIndex(logger *zap.Logger) *similarity.Index {
	return similarity.NewIndex(similarity.HashingEmbedder(embeddingDim), logger)
}

// ProvideDeliveryWorker creates the webhook delivery worker
func ProvideDeliveryWorker(dc *domaincfg.DomainConfig, metrics *observability.Collector, logger *zap.Logger) *delivery.Worker {
	policy := delivery.Policy{
		MaxAttempts: dc.DeliveryMaxAttempts,
		Backoff:     dc.DeliveryBackoff,
		Timeout:     dc.DeliveryTimeout,
	}
	return delivery.NewWorker(policy, metrics, logger)
}

// ProvideDispatcher wires the dispatcher between service and worker
func ProvideDispatcher(service *services.GraphService, worker *delivery.Worker, dc *domaincfg.DomainConfig, metrics *observability.Collector, logger *zap.Logger) *services.Dispatcher {
	return services.NewDispatcher(service, worker, dc, metrics, logger)
}
