package permission

import (
	"github.com/permipay/permipay/internal/permission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("permission.service",
	fx.Provide(service.NewService),
)
