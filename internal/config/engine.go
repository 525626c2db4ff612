package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig holds the tunable policy knobs of the tax engine: compliance
// scoring thresholds and audit anomaly detection limits. It is reloadable at
// runtime so threshold changes do not require a redeploy.
type EngineConfig struct {
	// Payment compliance: outstanding balance above this amount raises a
	// HIGH severity alert and forces OVERDUE status.
	OutstandingBalanceAlertThreshold float64 `mapstructure:"outstandingBalanceAlertThreshold"`

	// Filing/payment status thresholds (percentages).
	CompliantRate       float64 `mapstructure:"compliantRate"`
	CompliantTimeliness float64 `mapstructure:"compliantTimeliness"`
	WarningRate         float64 `mapstructure:"warningRate"`
	WarningTimeliness   float64 `mapstructure:"warningTimeliness"`

	// Alert windows (days).
	UpcomingDueDays int `mapstructure:"upcomingDueDays"`
	OverdueHighDays int `mapstructure:"overdueHighDays"`

	// Anomaly detection limits.
	RapidChangeCount      int `mapstructure:"rapidChangeCount"`
	RapidChangeHighCount  int `mapstructure:"rapidChangeHighCount"`
	RapidChangeWindowMins int `mapstructure:"rapidChangeWindowMins"`
	AfterHoursCount       int `mapstructure:"afterHoursCount"`
	AfterHoursStartHour   int `mapstructure:"afterHoursStartHour"`
	AfterHoursEndHour     int `mapstructure:"afterHoursEndHour"`
	BulkDeleteCount       int `mapstructure:"bulkDeleteCount"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		OutstandingBalanceAlertThreshold: 10_000,
		CompliantRate:                    95,
		CompliantTimeliness:              90,
		WarningRate:                      80,
		WarningTimeliness:                70,
		UpcomingDueDays:                  30,
		OverdueHighDays:                  30,
		RapidChangeCount:                 10,
		RapidChangeHighCount:             20,
		RapidChangeWindowMins:            60,
		AfterHoursCount:                  5,
		AfterHoursStartHour:              22,
		AfterHoursEndHour:                6,
		BulkDeleteCount:                  5,
	}
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("taxengine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/taxengine/config") // Volume-mounted config
	v.AddConfigPath("/etc/taxengine")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("TAXENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	setEngineDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

// NewStaticEngineConfigHolder returns a holder pinned to cfg; used by tests.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func setEngineDefaults(v *viper.Viper, cfg EngineConfig) {
	v.SetDefault("engine.outstandingBalanceAlertThreshold", cfg.OutstandingBalanceAlertThreshold)
	v.SetDefault("engine.compliantRate", cfg.CompliantRate)
	v.SetDefault("engine.compliantTimeliness", cfg.CompliantTimeliness)
	v.SetDefault("engine.warningRate", cfg.WarningRate)
	v.SetDefault("engine.warningTimeliness", cfg.WarningTimeliness)
	v.SetDefault("engine.upcomingDueDays", cfg.UpcomingDueDays)
	v.SetDefault("engine.overdueHighDays", cfg.OverdueHighDays)
	v.SetDefault("engine.rapidChangeCount", cfg.RapidChangeCount)
	v.SetDefault("engine.rapidChangeHighCount", cfg.RapidChangeHighCount)
	v.SetDefault("engine.rapidChangeWindowMins", cfg.RapidChangeWindowMins)
	v.SetDefault("engine.afterHoursCount", cfg.AfterHoursCount)
	v.SetDefault("engine.afterHoursStartHour", cfg.AfterHoursStartHour)
	v.SetDefault("engine.afterHoursEndHour", cfg.AfterHoursEndHour)
	v.SetDefault("engine.bulkDeleteCount", cfg.BulkDeleteCount)
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.OutstandingBalanceAlertThreshold < 0 {
		return errors.New("engine.outstandingBalanceAlertThreshold cannot be negative")
	}
	if cfg.CompliantRate < cfg.WarningRate {
		return errors.New("engine.compliantRate must be >= engine.warningRate")
	}
	if cfg.RapidChangeWindowMins <= 0 {
		return errors.New("engine.rapidChangeWindowMins must be positive")
	}
	return nil
}
