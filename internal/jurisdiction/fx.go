package jurisdiction

import (
	"github.com/paksafinancial/taxengine/internal/jurisdiction/repository"
	"github.com/paksafinancial/taxengine/internal/jurisdiction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("jurisdiction.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewResolver),
)
