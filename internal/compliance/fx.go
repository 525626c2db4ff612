package compliance

import (
	"github.com/paksafinancial/taxengine/internal/compliance/repository"
	"github.com/paksafinancial/taxengine/internal/compliance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewAnalyzer),
)
