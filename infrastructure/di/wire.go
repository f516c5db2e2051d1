//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"graphkb-backend/infrastructure/config"
)

// SuperSet is the main provider set containing all providers. The
// service/dispatcher cycle is closed by hand in the generated file.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideTracing,
	ProvideMetrics,
	ProvideDomainConfig,
	ProvideSchemaRegistry,
	ProvideGraphRepository,
	ProvideSimilarityIndex,
	ProvideDeliveryWorker,
	ProvideDispatcher,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
