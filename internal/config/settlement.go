package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// SettlementConfig holds operational knobs for checkout and rebate settlement.
type SettlementConfig struct {
	FeeRate         string        `mapstructure:"feeRate"`
	PendingOrderTTL time.Duration `mapstructure:"pendingOrderTTL"`
	DailyCron       string        `mapstructure:"dailyCron"`
	MonthlyCron     string        `mapstructure:"monthlyCron"`
	TimeZone        string        `mapstructure:"timeZone"`
	BatchSize       int           `mapstructure:"batchSize"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		FeeRate:         "0.1",
		PendingOrderTTL: 10 * time.Minute,
		DailyCron:       "0 0 * * *",
		MonthlyCron:     "0 0 15 * *",
		TimeZone:        "UTC",
		BatchSize:       200,
	}
}

// Rate returns the platform fee rate. Validation guarantees it parses.
func (c SettlementConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.FeeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c SettlementConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.TimeZone))
	if err != nil {
		return time.UTC
	}
	return loc
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfigHolder returns a holder that never reloads.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder() (*SettlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/expertly/config")
	v.AddConfigPath("/etc/expertly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EXPERTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettlementConfig()
	v.SetDefault("settlement.feeRate", defaults.FeeRate)
	v.SetDefault("settlement.pendingOrderTTL", defaults.PendingOrderTTL)
	v.SetDefault("settlement.dailyCron", defaults.DailyCron)
	v.SetDefault("settlement.monthlyCron", defaults.MonthlyCron)
	v.SetDefault("settlement.timeZone", defaults.TimeZone)
	v.SetDefault("settlement.batchSize", defaults.BatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticSettlementConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SettlementConfig
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Printf("[settlement-config] reload failed: %v", err)
			return
		}
		if err := ValidateSettlementConfig(updated); err != nil {
			log.Printf("[settlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[settlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	if h == nil {
		return DefaultSettlementConfig()
	}
	cfg, ok := h.current.Load().(SettlementConfig)
	if !ok {
		return DefaultSettlementConfig()
	}
	return cfg
}

func ValidateSettlementConfig(cfg SettlementConfig) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.FeeRate))
	if err != nil {
		return fmt.Errorf("settlement.feeRate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("settlement.feeRate must be in [0, 1)")
	}
	if cfg.PendingOrderTTL <= 0 {
		return errors.New("settlement.pendingOrderTTL must be positive")
	}
	if _, err := cron.ParseStandard(cfg.DailyCron); err != nil {
		return fmt.Errorf("settlement.dailyCron: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.MonthlyCron); err != nil {
		return fmt.Errorf("settlement.monthlyCron: %w", err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.TimeZone)); err != nil {
		return fmt.Errorf("settlement.timeZone: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return errors.New("settlement.batchSize must be positive")
	}
	return nil
}
