package taxrule

import (
	"github.com/paksafinancial/taxengine/internal/taxrule/repository"
	"github.com/paksafinancial/taxengine/internal/taxrule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("taxrule.registry",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewFeedClient),
	fx.Provide(service.NewRegistry),
)
