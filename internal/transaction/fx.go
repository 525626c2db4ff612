package transaction

import (
	"github.com/paksafinancial/taxengine/internal/transaction/repository"
	"github.com/paksafinancial/taxengine/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewLedger),
	fx.Provide(service.NewRuleChecker),
	fx.Provide(service.NewCertificateChecker),
)
