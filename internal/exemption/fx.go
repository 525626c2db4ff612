package exemption

import (
	"github.com/paksafinancial/taxengine/internal/exemption/repository"
	"github.com/paksafinancial/taxengine/internal/exemption/service"
	"go.uber.org/fx"
)

var Module = fx.Module("exemption.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewValidator),
)
