package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks the config for:
//   - Required fields and value ranges
//   - Duplicate rule names (case-insensitive)
//   - Every declarative rule, with the same checks the admin API applies
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if !logLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level: unknown level %q", cfg.Log.Level))
	}
	if !logFormats[strings.ToLower(cfg.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log.format: unknown format %q", cfg.Log.Format))
	}
	if cfg.Engine.RuleCacheTTLMs < 0 {
		errs = append(errs, "engine.rule_cache_ttl_ms must not be negative")
	}
	if cfg.Engine.EventWorkers < 1 {
		errs = append(errs, "engine.event_workers must be at least 1")
	}
	if cfg.Engine.QueueDepth < 1 {
		errs = append(errs, "engine.queue_depth must be at least 1")
	}
	if cfg.Scheduler.PollIntervalMs < 1000 {
		errs = append(errs, "scheduler.poll_interval_ms must be at least 1000")
	}
	if cfg.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler.workers must be at least 1")
	}
	if cfg.Scheduler.FirstRunLookbackMinutes < 1 {
		errs = append(errs, "scheduler.first_run_lookback_minutes must be at least 1")
	}
	if cfg.Webhook.TimeoutMs < 1 {
		errs = append(errs, "webhook.timeout_ms must be positive")
	}
	if cfg.Webhook.BaseURL != "" {
		if u, err := url.Parse(cfg.Webhook.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("webhook.base_url: %q is not an absolute URL", cfg.Webhook.BaseURL))
		}
	}
	if cfg.NATS.URL != "" && !strings.Contains(cfg.NATS.URL, "://") {
		errs = append(errs, fmt.Sprintf("nats.url: %q has no scheme", cfg.NATS.URL))
	}
	if cfg.Postgres.MigrateOnStart && cfg.Postgres.DSN == "" {
		errs = append(errs, "postgres.migrate_on_start requires postgres.dsn")
	}
	validateRules(cfg.Rules, &errs)

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateRules(specs []rule.Spec, errs *[]string) {
	dry := rule.NewService(rule.NewInMemoryStore())
	names := make(map[string]int, len(specs))
	for i, spec := range specs {
		loc := fmt.Sprintf("rules[%d]", i)
		if name := strings.ToLower(strings.TrimSpace(spec.Name)); name != "" {
			if prev, ok := names[name]; ok {
				*errs = append(*errs, fmt.Sprintf("%s: duplicate rule name %q (first seen at rules[%d])", loc, spec.Name, prev))
				continue
			}
			names[name] = i
			loc = fmt.Sprintf("rule %q", spec.Name)
		}
		if _, err := dry.Build(spec); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", loc, err))
		}
	}
}
