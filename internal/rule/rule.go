package rule

import (
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
)

// Trigger is the class of document event that makes a rule eligible.
type Trigger string

const (
	TriggerDocumentCreated     Trigger = "DOCUMENT_CREATED"
	TriggerDocumentUpdated     Trigger = "DOCUMENT_UPDATED"
	TriggerDocumentTagged      Trigger = "DOCUMENT_TAGGED"
	TriggerDocumentMoved       Trigger = "DOCUMENT_MOVED"
	TriggerDocumentCategorized Trigger = "DOCUMENT_CATEGORIZED"
	TriggerVersionCreated      Trigger = "VERSION_CREATED"
	TriggerCommentAdded        Trigger = "COMMENT_ADDED"
	TriggerScheduled           Trigger = "SCHEDULED"
)

// Triggers lists every trigger type.
var Triggers = []Trigger{
	TriggerDocumentCreated,
	TriggerDocumentUpdated,
	TriggerDocumentTagged,
	TriggerDocumentMoved,
	TriggerDocumentCategorized,
	TriggerVersionCreated,
	TriggerCommentAdded,
	TriggerScheduled,
}

// ParseTrigger accepts a trigger name in any case.
func ParseTrigger(s string) (Trigger, bool) {
	t := Trigger(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Triggers {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// SystemActor is the identity used for rules without an owner.
const SystemActor = "system"

// Defaults applied at creation.
const (
	DefaultPriority       = 100
	DefaultTimezone       = "UTC"
	DefaultMaxItemsPerRun = 200
)

// Rule is a named condition plus ordered actions.
type Rule struct {
	ID          string
	Name        string
	Description string
	Trigger     Trigger
	Condition   condition.Condition // nil always matches
	Actions     []action.Action
	Priority    int // lower runs first
	Enabled     bool
	Owner       string

	ScopeFolderID  string   // subtree root; empty = everywhere
	ScopeMimeTypes []string // empty = any; "image/*" matches by prefix
	StopOnMatch    bool

	ExecutionCount int64
	FailureCount   int64

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	CronExpression        string
	Timezone              string
	LastRunAt             *time.Time
	NextRunAt             *time.Time
	MaxItemsPerRun        int
	ManualBackfillMinutes int
}

// IsScheduled reports whether the rule runs from the scheduler.
func (r *Rule) IsScheduled() bool {
	return r.Trigger == TriggerScheduled && strings.TrimSpace(r.CronExpression) != ""
}

// IsMimeTypeInScope reports whether a document of the given MIME type may
// be processed by this rule.
func (r *Rule) IsMimeTypeInScope(mimeType string) bool {
	if len(r.ScopeMimeTypes) == 0 {
		return true
	}
	if mimeType == "" {
		return false
	}
	for _, scope := range r.ScopeMimeTypes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(scope, "/*"); ok {
			if strings.HasPrefix(strings.ToLower(mimeType), strings.ToLower(prefix)+"/") {
				return true
			}
			continue
		}
		if strings.EqualFold(scope, mimeType) {
			return true
		}
	}
	return false
}

// Actor is the identity scheduled runs act as.
func (r *Rule) Actor() string {
	if strings.TrimSpace(r.Owner) != "" {
		return r.Owner
	}
	return SystemActor
}

// SortedActions returns the actions by ascending order.
func (r *Rule) SortedActions() []action.Action {
	return action.Sorted(r.Actions)
}

// SuccessRate is the percentage of executions without a failed action.
func (r *Rule) SuccessRate() float64 {
	return successRate(r.ExecutionCount, r.FailureCount)
}

// Clone returns a copy safe to mutate. The condition tree is immutable and shared.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Actions = append([]action.Action(nil), r.Actions...)
	c.ScopeMimeTypes = append([]string(nil), r.ScopeMimeTypes...)
	c.DeletedAt = cloneTime(r.DeletedAt)
	c.LastRunAt = cloneTime(r.LastRunAt)
	c.NextRunAt = cloneTime(r.NextRunAt)
	return &c
}

// ParseMimeTypes splits a comma-separated scope list.
func ParseMimeTypes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func successRate(executions, failures int64) float64 {
	if executions <= 0 {
		return 0
	}
	return float64(executions-failures) / float64(executions) * 100
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
