package rule

import (
	"context"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
)

// SeedResult lists the rule names Seed created and updated.
type SeedResult struct {
	Created []string
	Updated []string
}

// Seed applies declarative rules. A spec replaces the definition of the live
// rule with the same name (case-insensitive), keeping its counters and run
// times, or creates a new rule. Rules absent from specs are left alone. Every
// spec is attempted; the error lists the ones that failed.
func (s *Service) Seed(ctx context.Context, specs []Spec) (SeedResult, error) {
	var res SeedResult
	existing, err := s.store.List(ctx, Filter{})
	if err != nil {
		return res, fmt.Errorf("list rules: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, r := range existing {
		byName[strings.ToLower(r.Name)] = r.ID
	}

	var problems []string
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if id, ok := byName[strings.ToLower(name)]; ok {
			if _, err := s.Update(ctx, id, specPatch(spec)); err != nil {
				problems = append(problems, fmt.Sprintf("rules[%d] %q: %v", i, name, err))
				continue
			}
			res.Updated = append(res.Updated, name)
			continue
		}
		r, err := s.Create(ctx, spec)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d] %q: %v", i, name, err))
			continue
		}
		byName[strings.ToLower(r.Name)] = r.ID
		res.Created = append(res.Created, r.Name)
	}
	if len(problems) > 0 {
		return res, fmt.Errorf("seed rules:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return res, nil
}

// specPatch turns a full spec into a patch that rewrites every definition
// field. An unset enabled flag keeps the current state.
func specPatch(spec Spec) Patch {
	cond := spec.Condition
	if cond == nil {
		cond = &condition.Spec{Type: condition.KindAlwaysTrue}
	}
	actions := spec.Actions
	if actions == nil {
		actions = []action.Spec{}
	}
	priority := deref(spec.Priority, DefaultPriority)
	stop := deref(spec.StopOnMatch, false)
	trigger := spec.Trigger
	p := Patch{
		Name:                  &spec.Name,
		Description:           &spec.Description,
		Trigger:               &trigger,
		Condition:             cond,
		Actions:               actions,
		Priority:              &priority,
		Enabled:               spec.Enabled,
		ScopeFolderID:         &spec.ScopeFolderID,
		ScopeMimeTypes:        &spec.ScopeMimeTypes,
		StopOnMatch:           &stop,
		CronExpression:        &spec.CronExpression,
		Timezone:              &spec.Timezone,
	}
	if t, _ := ParseTrigger(string(trigger)); t == TriggerScheduled {
		maxItems := deref(spec.MaxItemsPerRun, DefaultMaxItemsPerRun)
		backfill := deref(spec.ManualBackfillMinutes, 0)
		p.MaxItemsPerRun, p.ManualBackfillMinutes = &maxItems, &backfill
	}
	return p
}
