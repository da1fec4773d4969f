package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

const uniqueViolation = "23505"

const ruleColumns = `id, name, description, trigger_type, condition, actions, priority, enabled, owner,
	scope_folder_id, scope_mime_types, stop_on_match, execution_count, failure_count,
	cron_expression, timezone, last_run_at, next_run_at, max_items_per_run, manual_backfill_minutes,
	deleted, deleted_at, created_at, updated_at`

// RuleStore implements rule.Store on the automation_rules table.
type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

var _ rule.Store = (*RuleStore)(nil)

func (s *RuleStore) Create(ctx context.Context, r *rule.Rule) error {
	row, err := toRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, row.args()...)
	if err != nil {
		return translate(err, r)
	}
	return nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*rule.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE id = $1 AND NOT deleted
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rule.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// Update rewrites the definition columns. Counters, run times and the
// deletion marker belong to their own statements.
func (s *RuleStore) Update(ctx context.Context, r *rule.Rule) error {
	row, err := toRow(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			name = $2, description = $3, trigger_type = $4, condition = $5, actions = $6,
			priority = $7, enabled = $8, owner = $9, scope_folder_id = $10, scope_mime_types = $11,
			stop_on_match = $12, cron_expression = $13, timezone = $14, max_items_per_run = $15,
			manual_backfill_minutes = $16, updated_at = $17
		WHERE id = $1 AND NOT deleted
	`, row.ID, row.Name, row.Description, row.Trigger, row.Condition, row.Actions,
		row.Priority, row.Enabled, row.Owner, row.ScopeFolderID, row.ScopeMimeTypes,
		row.StopOnMatch, row.CronExpression, row.Timezone, row.MaxItemsPerRun,
		row.BackfillMins, row.UpdatedAt)
	if err != nil {
		return translate(err, r)
	}
	return expectOne(res, r.ID)
}

func (s *RuleStore) Delete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET deleted = TRUE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT deleted
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectOne(res, id)
}

func (s *RuleStore) List(ctx context.Context, f rule.Filter) ([]*rule.Rule, error) {
	var (
		where = []string{"NOT deleted"}
		args  []any
	)
	if f.Owner != "" {
		args = append(args, f.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if f.Trigger != "" {
		args = append(args, string(f.Trigger))
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(q))+"%")
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(description) LIKE $%d)", len(args), len(args)))
	}
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY priority, seq
	`, args...)
}

func (s *RuleStore) ListByTrigger(ctx context.Context, t rule.Trigger) ([]*rule.Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE trigger_type = $1 AND enabled AND NOT deleted
		ORDER BY priority, seq
	`, string(t))
}

func (s *RuleStore) ListDueScheduled(ctx context.Context, now time.Time) ([]*rule.Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE trigger_type = 'SCHEDULED' AND btrim(cron_expression) <> ''
		  AND enabled AND NOT deleted
		  AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY priority, seq
	`, now)
}

func (s *RuleStore) RecordExecution(ctx context.Context, id string, failed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			execution_count = execution_count + 1,
			failure_count = failure_count + CASE WHEN $2 THEN 1 ELSE 0 END
		WHERE id = $1 AND NOT deleted
	`, id, failed)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return expectOne(res, id)
}

func (s *RuleStore) MarkScheduledRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, disable bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			last_run_at = $2,
			next_run_at = $3,
			enabled = enabled AND NOT $4
		WHERE id = $1 AND NOT deleted
	`, id, lastRun, nullTime(nextRun), disable)
	if err != nil {
		return fmt.Errorf("failed to update scheduled run times: %w", err)
	}
	return expectOne(res, id)
}

func (s *RuleStore) Reschedule(ctx context.Context, id string, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET next_run_at = $2
		WHERE id = $1 AND NOT deleted
	`, id, nullTime(nextRun))
	if err != nil {
		return fmt.Errorf("failed to reschedule rule: %w", err)
	}
	return expectOne(res, id)
}

func (s *RuleStore) query(ctx context.Context, q string, args ...any) ([]*rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// ruleRow is a rule flattened to column values.
type ruleRow struct {
	ID, Name, Description, Trigger string
	Condition                      sql.NullString
	Actions                        string
	Priority                       int
	Enabled                        bool
	Owner                          string
	ScopeFolderID, ScopeMimeTypes  string
	StopOnMatch                    bool
	ExecutionCount, FailureCount   int64
	CronExpression, Timezone       string
	LastRunAt, NextRunAt           sql.NullTime
	MaxItemsPerRun, BackfillMins   int
	Deleted                        bool
	DeletedAt                      sql.NullTime
	CreatedAt, UpdatedAt           time.Time
}

func (w *ruleRow) args() []any {
	return []any{
		w.ID, w.Name, w.Description, w.Trigger, w.Condition, w.Actions, w.Priority, w.Enabled, w.Owner,
		w.ScopeFolderID, w.ScopeMimeTypes, w.StopOnMatch, w.ExecutionCount, w.FailureCount,
		w.CronExpression, w.Timezone, w.LastRunAt, w.NextRunAt, w.MaxItemsPerRun, w.BackfillMins,
		w.Deleted, w.DeletedAt, w.CreatedAt, w.UpdatedAt,
	}
}

func (w *ruleRow) dest() []any {
	return []any{
		&w.ID, &w.Name, &w.Description, &w.Trigger, &w.Condition, &w.Actions, &w.Priority, &w.Enabled, &w.Owner,
		&w.ScopeFolderID, &w.ScopeMimeTypes, &w.StopOnMatch, &w.ExecutionCount, &w.FailureCount,
		&w.CronExpression, &w.Timezone, &w.LastRunAt, &w.NextRunAt, &w.MaxItemsPerRun, &w.BackfillMins,
		&w.Deleted, &w.DeletedAt, &w.CreatedAt, &w.UpdatedAt,
	}
}

func toRow(r *rule.Rule) (*ruleRow, error) {
	w := &ruleRow{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Trigger:        string(r.Trigger),
		Actions:        "[]",
		Priority:       r.Priority,
		Enabled:        r.Enabled,
		Owner:          r.Owner,
		ScopeFolderID:  r.ScopeFolderID,
		ScopeMimeTypes: strings.Join(r.ScopeMimeTypes, ","),
		StopOnMatch:    r.StopOnMatch,
		ExecutionCount: r.ExecutionCount,
		FailureCount:   r.FailureCount,
		CronExpression: r.CronExpression,
		Timezone:       r.Timezone,
		LastRunAt:      nullTime(r.LastRunAt),
		NextRunAt:      nullTime(r.NextRunAt),
		MaxItemsPerRun: r.MaxItemsPerRun,
		BackfillMins:   r.ManualBackfillMinutes,
		Deleted:        r.Deleted,
		DeletedAt:      nullTime(r.DeletedAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Condition != nil {
		b, err := json.Marshal(condition.ToSpec(r.Condition))
		if err != nil {
			return nil, fmt.Errorf("encode condition: %w", err)
		}
		w.Condition = sql.NullString{String: string(b), Valid: true}
	}
	if len(r.Actions) > 0 {
		b, err := json.Marshal(action.ToSpecs(r.Actions))
		if err != nil {
			return nil, fmt.Errorf("encode actions: %w", err)
		}
		w.Actions = string(b)
	}
	return w, nil
}

func (w *ruleRow) toRule() (*rule.Rule, error) {
	r := &rule.Rule{
		ID:                    w.ID,
		Name:                  w.Name,
		Description:           w.Description,
		Trigger:               rule.Trigger(w.Trigger),
		Priority:              w.Priority,
		Enabled:               w.Enabled,
		Owner:                 w.Owner,
		ScopeFolderID:         w.ScopeFolderID,
		ScopeMimeTypes:        rule.ParseMimeTypes(w.ScopeMimeTypes),
		StopOnMatch:           w.StopOnMatch,
		ExecutionCount:        w.ExecutionCount,
		FailureCount:          w.FailureCount,
		CronExpression:        w.CronExpression,
		Timezone:              w.Timezone,
		LastRunAt:             timePtr(w.LastRunAt),
		NextRunAt:             timePtr(w.NextRunAt),
		MaxItemsPerRun:        w.MaxItemsPerRun,
		ManualBackfillMinutes: w.BackfillMins,
		Deleted:               w.Deleted,
		DeletedAt:             timePtr(w.DeletedAt),
		CreatedAt:             w.CreatedAt,
		UpdatedAt:             w.UpdatedAt,
	}
	if w.Condition.Valid {
		var spec condition.Spec
		if err := json.Unmarshal([]byte(w.Condition.String), &spec); err != nil {
			return nil, fmt.Errorf("rule %s: decode condition: %w", w.ID, err)
		}
		c, err := condition.FromSpec(&spec)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", w.ID, err)
		}
		r.Condition = c
	}
	var specs []action.Spec
	if err := json.Unmarshal([]byte(w.Actions), &specs); err != nil {
		return nil, fmt.Errorf("rule %s: decode actions: %w", w.ID, err)
	}
	actions, err := action.FromSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", w.ID, err)
	}
	r.Actions = actions
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (*rule.Rule, error) {
	var w ruleRow
	if err := sc.Scan(w.dest()...); err != nil {
		return nil, err
	}
	return w.toRule()
}

func translate(err error, r *rule.Rule) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == "automation_rules_pkey" {
			return fmt.Errorf("rule with ID %s already exists", r.ID)
		}
		return fmt.Errorf("%w: %s", rule.ErrDuplicateName, r.Name)
	}
	return fmt.Errorf("failed to write rule: %w", err)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", rule.ErrNotFound, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
