package config

import (
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	Log       LogConf       `yaml:"log"`
	Engine    EngineConf    `yaml:"engine"`
	Scheduler SchedulerConf `yaml:"scheduler"`
	Webhook   WebhookConf   `yaml:"webhook"`
	NATS      NATSConf      `yaml:"nats"`
	Postgres  PostgresConf  `yaml:"postgres"`
	HTTP      HTTPConf      `yaml:"http"`
	Rules     []rule.Spec   `yaml:"rules"` // declarative rules, upserted by name
}

type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// EngineConf tunes event-driven evaluation.
type EngineConf struct {
	RuleCacheTTLMs int `yaml:"rule_cache_ttl_ms"` // 0 disables the enabled-rule cache
	EventWorkers   int `yaml:"event_workers"`
	QueueDepth     int `yaml:"queue_depth"`
}

type SchedulerConf struct {
	Enabled                 *bool `yaml:"enabled"`
	PollIntervalMs          int   `yaml:"poll_interval_ms"`
	Workers                 int   `yaml:"workers"`
	FirstRunLookbackMinutes int   `yaml:"first_run_lookback_minutes"`
	QueryTimeoutMs          int   `yaml:"query_timeout_ms"`
}

type WebhookConf struct {
	TimeoutMs int    `yaml:"timeout_ms"`
	BaseURL   string `yaml:"base_url"` // prefix of {downloadUrl}
}

// NATSConf is optional; an empty URL keeps messaging in-process.
type NATSConf struct {
	URL                 string `yaml:"url"`
	NotificationSubject string `yaml:"notification_subject"`
	WorkflowSubject     string `yaml:"workflow_subject"`
	EventSubject        string `yaml:"event_subject"`
}

// PostgresConf is optional; an empty DSN keeps rules in memory.
type PostgresConf struct {
	DSN            string `yaml:"dsn"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type HTTPConf struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c EngineConf) RuleCacheTTL() time.Duration { return ms(c.RuleCacheTTLMs) }

func (c SchedulerConf) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c SchedulerConf) PollInterval() time.Duration { return ms(c.PollIntervalMs) }

func (c SchedulerConf) FirstRunLookback() time.Duration {
	return time.Duration(c.FirstRunLookbackMinutes) * time.Minute
}

func (c SchedulerConf) QueryTimeout() time.Duration { return ms(c.QueryTimeoutMs) }

func (c WebhookConf) Timeout() time.Duration { return ms(c.TimeoutMs) }

func (c HTTPConf) ReadTimeout() time.Duration { return ms(c.ReadTimeoutMs) }

func (c HTTPConf) WriteTimeout() time.Duration { return ms(c.WriteTimeoutMs) }
