package rule

import (
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
)

// Spec is the serialised form of a new rule, shared by the admin API and
// declarative rule files. Nil pointers take the creation defaults.
type Spec struct {
	Name                  string          `json:"name" yaml:"name"`
	Description           string          `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger               Trigger         `json:"triggerType" yaml:"trigger"`
	Condition             *condition.Spec `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions               []action.Spec   `json:"actions" yaml:"actions"`
	Priority              *int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled               *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Owner                 string          `json:"owner,omitempty" yaml:"owner,omitempty"`
	ScopeFolderID         string          `json:"scopeFolderId,omitempty" yaml:"scope_folder_id,omitempty"`
	ScopeMimeTypes        string          `json:"scopeMimeTypes,omitempty" yaml:"scope_mime_types,omitempty"`
	StopOnMatch           *bool           `json:"stopOnMatch,omitempty" yaml:"stop_on_match,omitempty"`
	CronExpression        string          `json:"cronExpression,omitempty" yaml:"cron,omitempty"`
	Timezone              string          `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	MaxItemsPerRun        *int            `json:"maxItemsPerRun,omitempty" yaml:"max_items_per_run,omitempty"`
	ManualBackfillMinutes *int            `json:"manualBackfillMinutes,omitempty" yaml:"manual_backfill_minutes,omitempty"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Name                  *string         `json:"name,omitempty"`
	Description           *string         `json:"description,omitempty"`
	Trigger               *Trigger        `json:"triggerType,omitempty"`
	Condition             *condition.Spec `json:"condition,omitempty"`
	Actions               []action.Spec   `json:"actions,omitempty"`
	Priority              *int            `json:"priority,omitempty"`
	Enabled               *bool           `json:"enabled,omitempty"`
	ScopeFolderID         *string         `json:"scopeFolderId,omitempty"`
	ScopeMimeTypes        *string         `json:"scopeMimeTypes,omitempty"`
	StopOnMatch           *bool           `json:"stopOnMatch,omitempty"`
	CronExpression        *string         `json:"cronExpression,omitempty"`
	Timezone              *string         `json:"timezone,omitempty"`
	MaxItemsPerRun        *int            `json:"maxItemsPerRun,omitempty"`
	ManualBackfillMinutes *int            `json:"manualBackfillMinutes,omitempty"`
}

// View is the JSON representation of a stored rule.
type View struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Description           string          `json:"description,omitempty"`
	Trigger               Trigger         `json:"triggerType"`
	Condition             *condition.Spec `json:"condition,omitempty"`
	Actions               []action.Spec   `json:"actions"`
	Priority              int             `json:"priority"`
	Enabled               bool            `json:"enabled"`
	Owner                 string          `json:"owner,omitempty"`
	ScopeFolderID         string          `json:"scopeFolderId,omitempty"`
	ScopeMimeTypes        string          `json:"scopeMimeTypes,omitempty"`
	StopOnMatch           bool            `json:"stopOnMatch"`
	ExecutionCount        int64           `json:"executionCount"`
	FailureCount          int64           `json:"failureCount"`
	CronExpression        string          `json:"cronExpression,omitempty"`
	Timezone              string          `json:"timezone,omitempty"`
	LastRunAt             *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt             *time.Time      `json:"nextRunAt,omitempty"`
	MaxItemsPerRun        int             `json:"maxItemsPerRun,omitempty"`
	ManualBackfillMinutes int             `json:"manualBackfillMinutes,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// ToView renders r for the admin API.
func ToView(r *Rule) View {
	return View{
		ID:                    r.ID,
		Name:                  r.Name,
		Description:           r.Description,
		Trigger:               r.Trigger,
		Condition:             condition.ToSpec(r.Condition),
		Actions:               action.ToSpecs(r.Actions),
		Priority:              r.Priority,
		Enabled:               r.Enabled,
		Owner:                 r.Owner,
		ScopeFolderID:         r.ScopeFolderID,
		ScopeMimeTypes:        strings.Join(r.ScopeMimeTypes, ","),
		StopOnMatch:           r.StopOnMatch,
		ExecutionCount:        r.ExecutionCount,
		FailureCount:          r.FailureCount,
		CronExpression:        r.CronExpression,
		Timezone:              r.Timezone,
		LastRunAt:             r.LastRunAt,
		NextRunAt:             r.NextRunAt,
		MaxItemsPerRun:        r.MaxItemsPerRun,
		ManualBackfillMinutes: r.ManualBackfillMinutes,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

// ToSpec renders r in its creation form, as used for rule files.
func ToSpec(r *Rule) Spec {
	priority, enabled, stop := r.Priority, r.Enabled, r.StopOnMatch
	s := Spec{
		Name:           r.Name,
		Description:    r.Description,
		Trigger:        r.Trigger,
		Condition:      condition.ToSpec(r.Condition),
		Actions:        action.ToSpecs(r.Actions),
		Priority:       &priority,
		Enabled:        &enabled,
		Owner:          r.Owner,
		ScopeFolderID:  r.ScopeFolderID,
		ScopeMimeTypes: strings.Join(r.ScopeMimeTypes, ","),
		StopOnMatch:    &stop,
		CronExpression: r.CronExpression,
		Timezone:       r.Timezone,
	}
	if r.Trigger == TriggerScheduled {
		maxItems, backfill := r.MaxItemsPerRun, r.ManualBackfillMinutes
		s.MaxItemsPerRun = &maxItems
		s.ManualBackfillMinutes = &backfill
	}
	return s
}
