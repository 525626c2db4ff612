package calculation

import (
	"github.com/paksafinancial/taxengine/internal/calculation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("calculation.service",
	fx.Provide(service.NewCache),
	fx.Provide(service.NewCalculator),
)
