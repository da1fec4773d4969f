package engine

import (
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

// Outcome classifies one rule execution.
type Outcome string

const (
	OutcomeNotMatched Outcome = "not_matched"
	OutcomeFull       Outcome = "full"    // every executed action succeeded
	OutcomePartial    Outcome = "partial" // some actions succeeded, some failed
	OutcomeFailed     Outcome = "failed"  // no action succeeded, or the run itself broke
)

// ExecutionResult is the outcome of running one rule against one document.
type ExecutionResult struct {
	ExecutionID      string          `json:"execution_id"`
	RuleID           string          `json:"rule_id"`
	RuleName         string          `json:"rule_name"`
	DocumentID       string          `json:"document_id"`
	DocumentName     string          `json:"document_name"`
	ConditionMatched bool            `json:"condition_matched"`
	Trigger          rule.Trigger    `json:"trigger_type"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	DurationMs       int64           `json:"duration_ms"`
	ActionResults    []action.Result `json:"action_results"`
	// Success is true iff the condition matched and every executed action succeeded.
	Success      bool    `json:"success"`
	Outcome      Outcome `json:"outcome"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// SuccessfulActions counts the actions that succeeded, skipped ones included.
func (r *ExecutionResult) SuccessfulActions() int {
	n := 0
	for _, a := range r.ActionResults {
		if a.Success {
			n++
		}
	}
	return n
}

// FailedActions counts the actions that failed.
func (r *ExecutionResult) FailedActions() int {
	return len(r.ActionResults) - r.SuccessfulActions()
}

// Failed reports whether any action failed or the run itself broke.
func (r *ExecutionResult) Failed() bool {
	return r.Outcome == OutcomeFailed || r.Outcome == OutcomePartial
}

func (r *ExecutionResult) finish(end time.Time) {
	r.EndTime = end
	r.DurationMs = end.Sub(r.StartTime).Milliseconds()
	if !r.ConditionMatched && r.ErrorMessage == "" {
		r.Outcome = OutcomeNotMatched
		return
	}
	ok, failed := r.SuccessfulActions(), r.FailedActions()
	switch {
	case r.ErrorMessage != "" && len(r.ActionResults) == 0:
		r.Outcome = OutcomeFailed
	case failed == 0:
		r.Outcome = OutcomeFull
	case ok > 0:
		r.Outcome = OutcomePartial
	default:
		r.Outcome = OutcomeFailed
	}
	r.Success = r.Outcome == OutcomeFull
}
