// Package engine selects the rules that apply to a document event and runs
// them: condition evaluation, ordered action dispatch and rule statistics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/metrics"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

// ActionExecutor runs one action. *action.Dispatcher implements it.
type ActionExecutor interface {
	Execute(ctx context.Context, actor string, a action.Action, doc *document.Document) action.Result
}

// FolderHierarchy answers folder-subtree scope questions.
type FolderHierarchy interface {
	// IsWithin reports whether folderID is ancestorID or one of its descendants.
	IsWithin(ctx context.Context, folderID, ancestorID string) (bool, error)
}

// Engine evaluates and executes rules.
type Engine struct {
	rules     rule.Store
	actions   ActionExecutor
	folders   FolderHierarchy
	evaluator condition.Evaluator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFolders enables subtree folder scopes. Without it a folder scope
// only matches documents directly inside the scope folder.
func WithFolders(f FolderHierarchy) Option { return func(e *Engine) { e.folders = f } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine reading rules from store and running actions through actions.
func New(store rule.Store, actions ActionExecutor, opts ...Option) *Engine {
	e := &Engine{
		rules:   store,
		actions: actions,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	e.evaluator = condition.Evaluator{Logger: e.logger}
	return e
}

// EvaluateCondition reports whether doc satisfies c.
func (e *Engine) EvaluateCondition(c condition.Condition, doc *document.Document) bool {
	return e.evaluator.Evaluate(c, doc)
}

// SelectRules returns the enabled rules for trigger whose folder and MIME
// scopes admit doc, by ascending priority. Equal priorities keep store order.
func (e *Engine) SelectRules(ctx context.Context, doc *document.Document, trigger rule.Trigger) ([]*rule.Rule, error) {
	candidates, err := e.rules.ListByTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", trigger, err)
	}
	selected := candidates[:0]
	for _, r := range candidates {
		if r.Deleted || !r.Enabled || r.Trigger != trigger {
			continue
		}
		in, err := e.inFolderScope(ctx, r, doc)
		if err != nil {
			e.logger.Warn("folder scope check failed, skipping rule",
				"rule", r.Name, "rule_id", r.ID, "document_id", doc.ID, "err", err)
			continue
		}
		if !in || !r.IsMimeTypeInScope(doc.MimeType) {
			continue
		}
		selected = append(selected, r)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority < selected[j].Priority
	})
	return selected, nil
}

// InScope reports whether doc falls inside r's folder and MIME scopes.
func (e *Engine) InScope(ctx context.Context, r *rule.Rule, doc *document.Document) (bool, error) {
	if !r.IsMimeTypeInScope(doc.MimeType) {
		return false, nil
	}
	return e.inFolderScope(ctx, r, doc)
}

func (e *Engine) inFolderScope(ctx context.Context, r *rule.Rule, doc *document.Document) (bool, error) {
	if r.ScopeFolderID == "" {
		return true, nil
	}
	if doc.ParentID == "" {
		return false, nil
	}
	if doc.ParentID == r.ScopeFolderID {
		return true, nil
	}
	if e.folders == nil {
		return false, nil
	}
	return e.folders.IsWithin(ctx, doc.ParentID, r.ScopeFolderID)
}

// EvaluateAndExecute runs every selected rule against doc in priority order
// on behalf of actor, stopping after the first matched rule flagged stopOnMatch.
func (e *Engine) EvaluateAndExecute(ctx context.Context, actor string, doc *document.Document, trigger rule.Trigger) ([]*ExecutionResult, error) {
	rules, err := e.SelectRules(ctx, doc, trigger)
	if err != nil {
		return nil, err
	}
	results := make([]*ExecutionResult, 0, len(rules))
	for _, r := range rules {
		res := e.ExecuteRule(ctx, actor, r, doc, trigger)
		results = append(results, res)
		if res.ConditionMatched && r.StopOnMatch {
			e.logger.Debug("rule matched with stopOnMatch, stopping rule chain",
				"rule", r.Name, "rule_id", r.ID, "document_id", doc.ID)
			break
		}
	}
	return results, nil
}

// ExecuteRule evaluates r against doc and, on a match, runs its actions in
// order. A failed action stops the chain unless it continues on error.
// Matched runs update the rule's counters; unmatched ones leave them alone.
func (e *Engine) ExecuteRule(ctx context.Context, actor string, r *rule.Rule, doc *document.Document, trigger rule.Trigger) (res *ExecutionResult) {
	res = &ExecutionResult{
		ExecutionID:  e.newID(),
		RuleID:       r.ID,
		RuleName:     r.Name,
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Trigger:      trigger,
		StartTime:    e.now(),
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("rule execution panicked",
				"rule", r.Name, "rule_id", r.ID, "document_id", doc.ID, "panic", p)
			res.ErrorMessage = fmt.Sprintf("rule execution failed: %v", p)
			res.ConditionMatched = true
			e.record(ctx, r, true)
		}
		res.finish(e.now())
		metrics.RuleExecutions.WithLabelValues(string(trigger), string(res.Outcome)).Inc()
		metrics.RuleExecutionDuration.Observe(float64(res.DurationMs))
	}()

	if !e.evaluator.Evaluate(r.Condition, doc) {
		return res
	}
	res.ConditionMatched = true
	e.logger.Info("rule matched",
		"rule", r.Name, "rule_id", r.ID, "document_id", doc.ID, "document", doc.Name, "trigger", string(trigger))

	failed := false
	for _, a := range r.SortedActions() {
		ar := e.actions.Execute(ctx, actor, a, doc)
		res.ActionResults = append(res.ActionResults, ar)
		if ar.Success {
			continue
		}
		failed = true
		if !a.ContinueOnError {
			res.ErrorMessage = fmt.Sprintf("Action %s failed: %s", ar.Type, ar.Error)
			break
		}
	}
	e.record(ctx, r, failed)
	return res
}

func (e *Engine) record(ctx context.Context, r *rule.Rule, failed bool) {
	if err := e.rules.RecordExecution(ctx, r.ID, failed); err != nil {
		e.logger.Error("failed to update rule statistics", "rule", r.Name, "rule_id", r.ID, "err", err)
		return
	}
	r.ExecutionCount++
	if failed {
		r.FailureCount++
	}
}
