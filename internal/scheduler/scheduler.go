// Package scheduler runs SCHEDULED rules: a poll loop finds the rules whose
// next run has arrived, feeds each one the documents modified since its
// last run, and advances its next run from the cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/audit"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/metrics"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
	"github.com/gyaneshwarpardhi/docrules/internal/workerpool"
)

// ErrRuleRunning is returned when a batch for the same rule is in flight.
var ErrRuleRunning = errors.New("scheduled rule is already running")

const (
	DefaultPollInterval     = time.Minute
	DefaultFirstRunLookback = 24 * time.Hour
	DefaultPreviewCount     = 5
)

// DocumentRepository supplies candidate documents, oldest modification first.
type DocumentRepository interface {
	FindModifiedSince(ctx context.Context, since time.Time, limit int) ([]*document.Document, error)
	FindModifiedSinceInFolder(ctx context.Context, since time.Time, folderID string, limit int) ([]*document.Document, error)
}

// RuleExecutor runs one rule against one document. *engine.Engine implements it.
type RuleExecutor interface {
	ExecuteRule(ctx context.Context, actor string, r *rule.Rule, doc *document.Document, trigger rule.Trigger) *engine.ExecutionResult
}

// Config tunes the poll loop. Zero values fall back to the defaults.
type Config struct {
	PollInterval     time.Duration
	Workers          int
	FirstRunLookback time.Duration
	QueryTimeout     time.Duration
}

// Scheduler drives scheduled rules.
type Scheduler struct {
	rules  rule.Store
	exec   RuleExecutor
	docs   DocumentRepository
	audit  audit.Sink
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a Scheduler. A nil sink logs batches through slog.
func New(rules rule.Store, exec RuleExecutor, docs DocumentRepository, sink audit.Sink, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.FirstRunLookback <= 0 {
		cfg.FirstRunLookback = DefaultFirstRunLookback
	}
	s := &Scheduler{
		rules:   rules,
		exec:    exec,
		docs:    docs,
		audit:   sink,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		running: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.audit == nil {
		s.audit = audit.LogSink{Logger: s.logger}
	}
	return s
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval, "workers", s.cfg.Workers)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler poll failed", "err", err)
			}
		}
	}
}

// Tick runs every rule due at the current time once and returns how many
// were due. With more than one worker, different rules run concurrently.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	now := s.now()
	due, err := s.rules.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due scheduled rules: %w", err)
	}
	metrics.DueRules.Set(float64(len(due)))
	if len(due) == 0 {
		s.logger.Debug("no scheduled rules due", "now", now)
		return 0, nil
	}
	s.logger.Info("found scheduled rules due for execution", "count", len(due))

	if s.cfg.Workers == 1 || len(due) == 1 {
		for _, r := range due {
			s.runDue(ctx, r, now)
		}
		return len(due), nil
	}

	pool := workerpool.New(ctx, s.cfg.Workers, len(due), func(ctx context.Context, r *rule.Rule) {
		s.runDue(ctx, r, now)
	})
	for _, r := range due {
		pool.TrySubmit(r) // queue holds every due rule
	}
	pool.Drain()
	return len(due), nil
}

func (s *Scheduler) runDue(ctx context.Context, r *rule.Rule, now time.Time) {
	_, err := s.execute(ctx, r, now, s.lookback(r, now, false), false)
	switch {
	case errors.Is(err, ErrRuleRunning):
		s.logger.Warn("scheduled rule still running, skipping", "rule", r.Name, "rule_id", r.ID)
	case err != nil:
		s.logger.Error("scheduled rule failed", "rule", r.Name, "rule_id", r.ID, "err", err)
	}
}

// TriggerNow runs a scheduled rule immediately, ignoring its due time.
// A positive manual backfill window replaces the usual lookback.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (audit.Batch, error) {
	r, err := s.rules.Get(ctx, id)
	if err != nil {
		return audit.Batch{}, err
	}
	if !r.IsScheduled() {
		return audit.Batch{}, fmt.Errorf("%w: %s", rule.ErrNotScheduled, id)
	}
	now := s.now()
	return s.execute(ctx, r, now, s.lookback(r, now, true), true)
}

// ValidateCron returns the next n occurrences of expr in timezone tz.
// n <= 0 means DefaultPreviewCount.
func (s *Scheduler) ValidateCron(expr, tz string, n int) ([]time.Time, error) {
	if n <= 0 {
		n = DefaultPreviewCount
	}
	return cronexpr.NextN(expr, tz, s.now(), n)
}

func (s *Scheduler) lookback(r *rule.Rule, now time.Time, manual bool) time.Time {
	if manual && r.ManualBackfillMinutes > 0 {
		return now.Add(-time.Duration(r.ManualBackfillMinutes) * time.Minute)
	}
	if r.LastRunAt != nil {
		return *r.LastRunAt
	}
	return now.Add(-s.cfg.FirstRunLookback)
}

// execute runs one batch of r and writes its audit record, a failed one when
// the run breaks. Whatever happens, lastRunAt becomes now and nextRunAt is
// recomputed; an unparsable cron disables the rule.
func (s *Scheduler) execute(ctx context.Context, r *rule.Rule, now, since time.Time, manual bool) (b audit.Batch, err error) {
	if !s.acquire(r.ID) {
		return b, fmt.Errorf("%w: %s", ErrRuleRunning, r.ID)
	}
	defer s.release(r.ID)

	start := time.Now()
	b = audit.Batch{
		RuleID:   r.ID,
		RuleName: r.Name,
		Actor:    r.Actor(),
		Manual:   manual,
		At:       now,
	}
	s.logger.Info("executing scheduled rule",
		"rule", r.Name, "rule_id", r.ID, "cron", r.CronExpression, "since", since, "actor", b.Actor, "manual", manual)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduled rule batch panicked", "rule", r.Name, "rule_id", r.ID, "panic", p)
			if rerr := s.rules.RecordExecution(ctx, r.ID, true); rerr != nil {
				s.logger.Error("failed to update rule statistics", "rule_id", r.ID, "err", rerr)
			}
			err = fmt.Errorf("scheduled rule %s panicked: %v", r.ID, p)
			b.Error = err.Error()
			b.DurationMs = time.Since(start).Milliseconds()
			s.writeAudit(ctx, b)
		}
		status := "ok"
		if err != nil || b.Failed > 0 {
			status = "failed"
		}
		if !s.advance(ctx, r, now) {
			status = "disabled"
		}
		metrics.ScheduledRuns.WithLabelValues(status).Inc()
	}()

	err = s.process(ctx, r, since, &b)
	b.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		b.Error = err.Error()
	} else {
		s.logger.Info("scheduled rule completed",
			"rule", r.Name, "rule_id", r.ID, "processed", b.Processed,
			"succeeded", b.Succeeded, "failed", b.Failed, "duration_ms", b.DurationMs)
	}
	s.writeAudit(ctx, b)
	return b, err
}

func (s *Scheduler) writeAudit(ctx context.Context, b audit.Batch) {
	if err := s.audit.LogScheduledRuleBatch(ctx, b); err != nil {
		s.logger.Warn("failed to write scheduled rule batch audit record", "rule_id", b.RuleID, "err", err)
	}
}

func (s *Scheduler) process(ctx context.Context, r *rule.Rule, since time.Time, b *audit.Batch) error {
	limit := r.MaxItemsPerRun
	if limit <= 0 {
		limit = rule.DefaultMaxItemsPerRun
	}
	docs, err := s.candidates(ctx, r, since, limit)
	if err != nil {
		return fmt.Errorf("fetch candidate documents: %w", err)
	}
	s.logger.Debug("candidate documents for scheduled rule", "rule", r.Name, "rule_id", r.ID, "count", len(docs))

	matched := 0
	for _, doc := range docs {
		if !r.IsMimeTypeInScope(doc.MimeType) {
			continue
		}
		b.Processed++
		res := s.exec.ExecuteRule(ctx, b.Actor, r, doc, rule.TriggerScheduled)
		if !res.ConditionMatched {
			continue
		}
		matched++
		if res.Failed() {
			b.Failed++
		}
	}
	b.Succeeded = matched - b.Failed
	metrics.ScheduledDocumentsProcessed.Add(float64(b.Processed))
	return nil
}

func (s *Scheduler) candidates(ctx context.Context, r *rule.Rule, since time.Time, limit int) ([]*document.Document, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}
	if r.ScopeFolderID != "" {
		return s.docs.FindModifiedSinceInFolder(ctx, since, r.ScopeFolderID, limit)
	}
	return s.docs.FindModifiedSince(ctx, since, limit)
}

// advance stores the run timestamps and reports whether the rule stays enabled.
func (s *Scheduler) advance(ctx context.Context, r *rule.Rule, now time.Time) bool {
	var nextRun *time.Time
	disable := false
	next, err := cronexpr.Next(r.CronExpression, r.Timezone, now)
	if err != nil {
		s.logger.Error("invalid cron expression, disabling scheduled rule",
			"rule", r.Name, "rule_id", r.ID, "cron", r.CronExpression, "timezone", r.Timezone, "err", err)
		disable = true
	} else {
		nextRun = &next
	}
	if err := s.rules.MarkScheduledRun(ctx, r.ID, now, nextRun, disable); err != nil {
		s.logger.Error("failed to update scheduled run times", "rule", r.Name, "rule_id", r.ID, "err", err)
	}
	return !disable
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
