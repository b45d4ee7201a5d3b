package ingest

import (
	"github.com/permipay/permipay/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(
		service.NewNormalizer,
		service.NewService,
	),
)
