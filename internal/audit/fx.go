package audit

import (
	"context"
	"time"

	"github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/audit/repository"
	"github.com/paksafinancial/taxengine/internal/audit/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pruneInterval = 24 * time.Hour

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Recorder { return svc }),
	fx.Invoke(startRetention),
)

// startRetention prunes expired trail entries once at boot and then daily.
func startRetention(lc fx.Lifecycle, svc domain.Service, log *zap.Logger) {
	log = log.Named("audit.retention")
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				prune := func() {
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					defer cancel()
					if _, err := svc.PruneExpired(ctx); err != nil {
						log.Warn("audit retention prune failed", zap.Error(err))
					}
				}
				prune()
				ticker := time.NewTicker(pruneInterval)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						prune()
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	})
}
