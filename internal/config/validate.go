package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	busDrivers     = []string{"memory", "kafka", "redis"}
	storeDrivers   = []string{"memory", "sqlite", "redis"}
	modelProviders = []string{"openai", "anthropic", "ollama", "claude", "vllm", "openrouter", "local"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
)

// Validate checks the configuration for unknown drivers and bad limits.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, val string, allowed []string) {
		for _, a := range allowed {
			if strings.EqualFold(val, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", field, val, strings.Join(allowed, ", ")))
	}

	oneOf("bus.driver", c.Bus.Driver, busDrivers)
	oneOf("store.driver", c.Store.Driver, storeDrivers)
	oneOf("model.provider", c.Model.Provider, modelProviders)
	oneOf("log.level", c.Log.Level, logLevels)
	oneOf("log.format", c.Log.Format, logFormats)

	if strings.TrimSpace(c.Bus.Prefix) == "" {
		errs = append(errs, errors.New("bus.prefix: must not be empty"))
	}
	if strings.EqualFold(c.Bus.Driver, "kafka") && len(c.Bus.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("bus.kafkaBrokers: at least one broker is required"))
	}
	if strings.EqualFold(c.Store.Driver, "sqlite") && strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path: required for the sqlite driver"))
	}
	if c.Store.ActivityMaxLen <= 0 {
		errs = append(errs, errors.New("store.activityMaxLen: must be positive"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout: must be positive"))
	}
	if c.Model.MaxRounds <= 0 {
		errs = append(errs, errors.New("model.maxRounds: must be positive"))
	}
	if c.Tools.PreviewChars <= 0 {
		errs = append(errs, errors.New("tools.previewChars: must be positive"))
	}
	if c.Service.MaxConcurrent < 0 {
		errs = append(errs, errors.New("service.maxConcurrent: must not be negative"))
	}
	if c.Service.HistoryTurns < 0 {
		errs = append(errs, errors.New("service.historyTurns: must not be negative"))
	}
	if c.Service.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("service.heartbeatInterval: must not be negative"))
	}
	if c.Service.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("service.shutdownTimeout: must be positive"))
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		errs = append(errs, errors.New("api.addr: required when the api is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Bus.KafkaBrokers = append([]string(nil), c.Bus.KafkaBrokers...)
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Model.APIKey = mask(c.Model.APIKey)
	out.Bus.RedisPassword = mask(c.Bus.RedisPassword)
	out.Store.RedisPassword = mask(c.Store.RedisPassword)
	return &out
}
