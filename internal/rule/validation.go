package rule

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
)

const maxNameLength = 255

// ValidationError lists every problem found in a rule definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Validate checks a rule the way it is checked before every save:
// identity and trigger, condition structure and operators, action
// parameters, scope and, for scheduled rules, cron and timezone.
func Validate(r *Rule) error {
	v := &ValidationError{}

	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		v.add("name is required")
	case len(name) > maxNameLength:
		v.add("name must be at most %d characters", maxNameLength)
	}
	if _, ok := ParseTrigger(string(r.Trigger)); !ok {
		v.add("unknown trigger type %q", r.Trigger)
	}

	if err := condition.Validate(r.Condition); err != nil {
		v.add("%v", err)
	}
	for i, a := range r.Actions {
		if a.Payload == nil {
			v.add("actions[%d]: type is required", i)
			continue
		}
		if err := a.Payload.Validate(); err != nil {
			v.add("actions[%d]: %v", i, err)
		}
	}

	if r.ScopeFolderID != "" {
		if _, err := uuid.Parse(r.ScopeFolderID); err != nil {
			v.add("scope folder id %q is not a valid id", r.ScopeFolderID)
		}
	}
	for _, m := range r.ScopeMimeTypes {
		if !strings.Contains(m, "/") {
			v.add("scope MIME type %q must look like type/subtype or type/*", m)
		}
	}

	if r.Trigger == TriggerScheduled {
		if strings.TrimSpace(r.CronExpression) == "" {
			v.add("cron expression is required for SCHEDULED rules")
		} else if err := cronexpr.Validate(r.CronExpression, r.Timezone); err != nil {
			v.add("%v", err)
		}
		if r.MaxItemsPerRun <= 0 {
			v.add("max items per run must be positive")
		}
		if r.ManualBackfillMinutes < 0 {
			v.add("manual backfill minutes must not be negative")
		}
	} else if strings.TrimSpace(r.CronExpression) != "" {
		v.add("cron expression is only allowed on SCHEDULED rules")
	}
	return v.orNil()
}

// decode converts the wire condition and actions, collecting errors into v.
func decode(v *ValidationError, cs *condition.Spec, as []action.Spec) (condition.Condition, []action.Action) {
	c, err := condition.FromSpec(cs)
	if err != nil {
		v.add("%v", err)
	}
	actions := make([]action.Action, 0, len(as))
	for i, s := range as {
		a, err := action.FromSpec(s)
		if err != nil {
			v.add("actions[%d]: %v", i, err)
			continue
		}
		actions = append(actions, a)
	}
	return c, actions
}
