package execution

import (
	"github.com/permipay/permipay/internal/execution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("execution.service",
	fx.Provide(service.NewService),
)
