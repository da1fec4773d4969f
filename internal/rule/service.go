package rule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

// Service is the administrative surface over a Store: CRUD with
// validation, statistics, templates and dry-run condition tests.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Build turns a Spec into a validated Rule with creation defaults applied.
// The rule is not stored.
func (s *Service) Build(spec Spec) (*Rule, error) {
	v := &ValidationError{}
	c, actions := decode(v, spec.Condition, spec.Actions)
	now := s.now()

	r := &Rule{
		ID:             s.newID(),
		Name:           strings.TrimSpace(spec.Name),
		Description:    spec.Description,
		Trigger:        spec.Trigger,
		Condition:      c,
		Actions:        actions,
		Priority:       deref(spec.Priority, DefaultPriority),
		Enabled:        deref(spec.Enabled, true),
		Owner:          spec.Owner,
		ScopeFolderID:  spec.ScopeFolderID,
		ScopeMimeTypes: ParseMimeTypes(spec.ScopeMimeTypes),
		StopOnMatch:    deref(spec.StopOnMatch, false),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t, ok := ParseTrigger(string(spec.Trigger)); ok {
		r.Trigger = t
	}
	if r.Trigger == TriggerScheduled {
		r.CronExpression = strings.TrimSpace(spec.CronExpression)
		r.Timezone = strings.TrimSpace(spec.Timezone)
		if r.Timezone == "" {
			r.Timezone = DefaultTimezone
		}
		r.MaxItemsPerRun = deref(spec.MaxItemsPerRun, DefaultMaxItemsPerRun)
		r.ManualBackfillMinutes = deref(spec.ManualBackfillMinutes, 0)
	} else {
		r.CronExpression = spec.CronExpression
	}

	if len(v.Problems) > 0 {
		return nil, v
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, spec Spec) (*Rule, error) {
	r, err := s.Build(spec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("created automation rule", "rule", r.Name, "rule_id", r.ID, "trigger", string(r.Trigger))
	return r, nil
}

// Update applies a partial update and revalidates the whole rule.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Rule, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &ValidationError{}
	scheduleChanged := false

	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Trigger != nil {
		t, ok := ParseTrigger(string(*p.Trigger))
		if !ok {
			t = *p.Trigger
		}
		scheduleChanged = scheduleChanged || t != r.Trigger
		r.Trigger = t
	}
	if p.Condition != nil {
		c, err := condition.FromSpec(p.Condition)
		if err != nil {
			v.add("%v", err)
		}
		r.Condition = c
	}
	if p.Actions != nil {
		_, actions := decode(v, nil, p.Actions)
		r.Actions = actions
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.ScopeFolderID != nil {
		r.ScopeFolderID = *p.ScopeFolderID
	}
	if p.ScopeMimeTypes != nil {
		r.ScopeMimeTypes = ParseMimeTypes(*p.ScopeMimeTypes)
	}
	if p.StopOnMatch != nil {
		r.StopOnMatch = *p.StopOnMatch
	}
	if p.CronExpression != nil {
		expr := strings.TrimSpace(*p.CronExpression)
		scheduleChanged = scheduleChanged || expr != r.CronExpression
		r.CronExpression = expr
	}
	if p.Timezone != nil {
		tz := strings.TrimSpace(*p.Timezone)
		if tz == "" {
			tz = DefaultTimezone
		}
		scheduleChanged = scheduleChanged || tz != r.Timezone
		r.Timezone = tz
	}
	if p.MaxItemsPerRun != nil {
		r.MaxItemsPerRun = *p.MaxItemsPerRun
	}
	if p.ManualBackfillMinutes != nil {
		r.ManualBackfillMinutes = *p.ManualBackfillMinutes
	}
	if r.Trigger == TriggerScheduled {
		if r.Timezone == "" {
			r.Timezone = DefaultTimezone
		}
		if r.MaxItemsPerRun == 0 {
			r.MaxItemsPerRun = DefaultMaxItemsPerRun
		}
	}

	if len(v.Problems) > 0 {
		return nil, v
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	if scheduleChanged {
		if err := s.store.Reschedule(ctx, id, s.nextRun(r)); err != nil {
			return nil, err
		}
	}
	s.logger.Info("updated automation rule", "rule", r.Name, "rule_id", r.ID)
	return s.store.Get(ctx, id)
}

// nextRun is the next run after a cron, timezone or trigger change. A rule
// that never ran stays due immediately.
func (s *Service) nextRun(r *Rule) *time.Time {
	if !r.IsScheduled() || r.LastRunAt == nil {
		return nil
	}
	next, err := cronexpr.Next(r.CronExpression, r.Timezone, s.now())
	if err != nil {
		return nil
	}
	return &next
}

// Delete soft-deletes a rule.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id, s.now()); err != nil {
		return err
	}
	s.logger.Info("deleted automation rule", "rule_id", id)
	return nil
}

// SetEnabled enables or disables a rule.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Rule, error) {
	return s.Update(ctx, id, Patch{Enabled: &enabled})
}

func (s *Service) Get(ctx context.Context, id string) (*Rule, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Rule, error) {
	return s.store.List(ctx, f)
}

// Stats are the counters of one rule.
type Stats struct {
	RuleID      string  `json:"ruleId"`
	RuleName    string  `json:"ruleName"`
	Executions  int64   `json:"executionCount"`
	Failures    int64   `json:"failureCount"`
	Successes   int64   `json:"successCount"`
	SuccessRate float64 `json:"successRate"`
}

// Stats returns the counters of one rule.
func (s *Service) Stats(ctx context.Context, id string) (Stats, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		RuleID:      r.ID,
		RuleName:    r.Name,
		Executions:  r.ExecutionCount,
		Failures:    r.FailureCount,
		Successes:   r.ExecutionCount - r.FailureCount,
		SuccessRate: r.SuccessRate(),
	}, nil
}

// GlobalStats aggregates every live rule.
type GlobalStats struct {
	TotalRules      int             `json:"totalRules"`
	EnabledRules    int             `json:"enabledRules"`
	DisabledRules   int             `json:"disabledRules"`
	TotalExecutions int64           `json:"totalExecutions"`
	TotalFailures   int64           `json:"totalFailures"`
	SuccessRate     float64         `json:"successRate"`
	ByTriggerType   map[Trigger]int `json:"byTriggerType"`
}

func (s *Service) GlobalStats(ctx context.Context) (GlobalStats, error) {
	rules, err := s.store.List(ctx, Filter{})
	if err != nil {
		return GlobalStats{}, err
	}
	g := GlobalStats{ByTriggerType: make(map[Trigger]int)}
	for _, r := range rules {
		g.TotalRules++
		if r.Enabled {
			g.EnabledRules++
		}
		g.TotalExecutions += r.ExecutionCount
		g.TotalFailures += r.FailureCount
		g.ByTriggerType[r.Trigger]++
	}
	g.DisabledRules = g.TotalRules - g.EnabledRules
	g.SuccessRate = successRate(g.TotalExecutions, g.TotalFailures)
	return g, nil
}

// TestResult is the outcome of a dry-run condition test.
type TestResult struct {
	Matched bool   `json:"matched"`
	Message string `json:"message"`
}

// TestDocument builds the ad-hoc document of a rule test. Missing name and
// MIME type default to test.pdf and application/pdf.
func TestDocument(fields map[string]any) (*document.Document, error) {
	doc, err := document.FromFields(fields)
	if err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Name == "" {
		doc.Name = "test.pdf"
	}
	if doc.MimeType == "" {
		doc.MimeType = "application/pdf"
	}
	return doc, nil
}

// Test evaluates a stored rule's condition and scope against an ad-hoc
// document without running any action.
func (s *Service) Test(ctx context.Context, id string, fields map[string]any) (TestResult, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return TestResult{}, err
	}
	doc, err := TestDocument(fields)
	if err != nil {
		return TestResult{}, &ValidationError{Problems: []string{"test document: " + err.Error()}}
	}
	if !r.IsMimeTypeInScope(doc.MimeType) {
		return TestResult{Matched: false, Message: fmt.Sprintf("MIME type %s is outside the rule scope", doc.MimeType)}, nil
	}
	ev := condition.Evaluator{Logger: s.logger}
	if ev.Evaluate(r.Condition, doc) {
		return TestResult{Matched: true, Message: "Rule condition matched"}, nil
	}
	return TestResult{Matched: false, Message: "Rule condition did not match"}, nil
}

// ConditionCheck is the outcome of validating a condition.
type ConditionCheck struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ValidateCondition checks a condition definition without storing anything.
func ValidateCondition(spec *condition.Spec) ConditionCheck {
	c, err := condition.FromSpec(spec)
	if err == nil {
		err = condition.Validate(c)
	}
	if err != nil {
		return ConditionCheck{Valid: false, Message: "Condition is invalid", Error: err.Error()}
	}
	return ConditionCheck{Valid: true, Message: "Condition is valid"}
}

// IsValidation reports whether err is a definition problem rather than a
// storage failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
