package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newService() *Service {
	n := 0
	return NewService(NewInMemoryStore(),
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("rule-%d", n)
		}),
	)
}

func pdfSpec(name string) Spec {
	return Spec{
		Name:      name,
		Trigger:   TriggerDocumentCreated,
		Condition: &condition.Spec{Field: "mimeType", Operator: "equals", Value: "application/pdf"},
		Actions:   []action.Spec{{Type: action.TypeAddTag, Params: action.Params{"tagName": "pdf"}}},
	}
}

func TestService_CreateDefaults(t *testing.T) {
	s := newService()
	r, err := s.Create(context.Background(), pdfSpec("Tag PDFs"))
	require.NoError(t, err)

	assert.Equal(t, "rule-1", r.ID)
	assert.Equal(t, DefaultPriority, r.Priority)
	assert.True(t, r.Enabled)
	assert.False(t, r.StopOnMatch)
	assert.Equal(t, t0, r.CreatedAt)
	require.Len(t, r.Actions, 1)
	assert.True(t, r.Actions[0].ContinueOnError)

	_, err = s.Create(context.Background(), pdfSpec("Tag PDFs"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestService_CreateFromJSON(t *testing.T) {
	raw := `{
	  "name": "Nightly invoice sweep",
	  "triggerType": "SCHEDULED",
	  "cronExpression": "0 0 2 * * *",
	  "timezone": "Europe/Berlin",
	  "scopeMimeTypes": "application/pdf, image/*",
	  "condition": {"expression": "name contains \"invoice\""},
	  "actions": [{"type": "SET_CATEGORY", "params": {"categoryName": "Finance"}}]
	}`
	var spec Spec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))

	r, err := newService().Create(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, r.IsScheduled())
	assert.Equal(t, DefaultMaxItemsPerRun, r.MaxItemsPerRun)
	assert.Equal(t, []string{"application/pdf", "image/*"}, r.ScopeMimeTypes)
	assert.Nil(t, r.NextRunAt, "a new scheduled rule is due immediately")
}

func TestService_CreateValidation(t *testing.T) {
	s := newService()
	cases := map[string]Spec{
		"no name":           {Trigger: TriggerDocumentCreated},
		"bad trigger":       {Name: "x", Trigger: "DOCUMENT_EXPLODED"},
		"bad operator":      {Name: "x", Trigger: TriggerDocumentCreated, Condition: &condition.Spec{Field: "name", Operator: "near", Value: "a"}},
		"empty AND":         {Name: "x", Trigger: TriggerDocumentCreated, Condition: &condition.Spec{Type: condition.KindAnd}},
		"missing param":     {Name: "x", Trigger: TriggerDocumentCreated, Actions: []action.Spec{{Type: action.TypeMoveToFolder}}},
		"missing cron":      {Name: "x", Trigger: TriggerScheduled},
		"bad cron":          {Name: "x", Trigger: TriggerScheduled, CronExpression: "every day"},
		"bad timezone":      {Name: "x", Trigger: TriggerScheduled, CronExpression: "@daily", Timezone: "Nowhere/City"},
		"cron on event":     {Name: "x", Trigger: TriggerDocumentCreated, CronExpression: "@daily"},
		"bad scope folder":  {Name: "x", Trigger: TriggerDocumentCreated, ScopeFolderID: "inbox"},
		"bad scope mime":    {Name: "x", Trigger: TriggerDocumentCreated, ScopeMimeTypes: "pdf"},
		"negative backfill": {Name: "x", Trigger: TriggerScheduled, CronExpression: "@daily", ManualBackfillMinutes: ptr(-5)},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(context.Background(), spec)
			require.Error(t, err)
			assert.True(t, IsValidation(err), err)
		})
	}
}

func TestService_UpdatePartial(t *testing.T) {
	ctx := context.Background()
	s := newService()
	r, err := s.Create(ctx, pdfSpec("Tag PDFs"))
	require.NoError(t, err)
	_, err = s.Create(ctx, pdfSpec("Other"))
	require.NoError(t, err)

	updated, err := s.Update(ctx, r.ID, Patch{Priority: ptr(5), StopOnMatch: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Priority)
	assert.True(t, updated.StopOnMatch)
	assert.Equal(t, "Tag PDFs", updated.Name)
	assert.NotNil(t, updated.Condition, "untouched fields survive")

	_, err = s.Update(ctx, r.ID, Patch{Name: ptr("Other")})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = s.Update(ctx, r.ID, Patch{Actions: []action.Spec{{Type: action.TypeRename}}})
	assert.True(t, IsValidation(err))

	_, err = s.Update(ctx, "nope", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RescheduleOnCronChange(t *testing.T) {
	ctx := context.Background()
	s := newService()
	spec := Spec{Name: "sweep", Trigger: TriggerScheduled, CronExpression: "0 0 * * * *"}
	r, err := s.Create(ctx, spec)
	require.NoError(t, err)

	last := t0.Add(-time.Hour)
	require.NoError(t, s.Store().MarkScheduledRun(ctx, r.ID, last, &last, false))

	updated, err := s.Update(ctx, r.ID, Patch{CronExpression: ptr("0 30 * * * *")})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, t0.Add(30*time.Minute), updated.NextRunAt.UTC())
}

// concurrentRunStore records a scheduled run right after the first Get,
// between the read and the write of an administrative update.
type concurrentRunStore struct {
	*InMemoryStore
	once sync.Once
	at   time.Time
}

func (s *concurrentRunStore) Get(ctx context.Context, id string) (*Rule, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	s.once.Do(func() {
		next := s.at.Add(time.Hour)
		_ = s.InMemoryStore.RecordExecution(ctx, id, true)
		_ = s.InMemoryStore.MarkScheduledRun(ctx, id, s.at, &next, false)
	})
	return r, err
}

func TestService_UpdateKeepsConcurrentRunState(t *testing.T) {
	ctx := context.Background()
	store := &concurrentRunStore{InMemoryStore: NewInMemoryStore(), at: t0}
	s := NewService(store, WithClock(func() time.Time { return t0 }))
	r, err := s.Create(ctx, Spec{Name: "sweep", Trigger: TriggerScheduled, CronExpression: "0 0 * * * *"})
	require.NoError(t, err)

	off, err := s.SetEnabled(ctx, r.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Equal(t, int64(1), off.ExecutionCount)
	assert.Equal(t, int64(1), off.FailureCount)
	require.NotNil(t, off.LastRunAt)
	assert.Equal(t, t0, *off.LastRunAt)
	require.NotNil(t, off.NextRunAt)
	assert.Equal(t, t0.Add(time.Hour), *off.NextRunAt)

	stored, err := store.InMemoryStore.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
	assert.Equal(t, t0.Add(time.Hour), *stored.NextRunAt)
}

func TestService_DeleteAndEnable(t *testing.T) {
	ctx := context.Background()
	s := newService()
	r, err := s.Create(ctx, pdfSpec("Tag PDFs"))
	require.NoError(t, err)

	off, err := s.SetEnabled(ctx, r.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)

	require.NoError(t, s.Delete(ctx, r.ID))
	_, err = s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create(ctx, pdfSpec("Tag PDFs"))
	assert.NoError(t, err, "names of deleted rules are reusable")
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	s := newService()
	a, _ := s.Create(ctx, pdfSpec("a"))
	b, _ := s.Create(ctx, Spec{Name: "b", Trigger: TriggerDocumentMoved, Enabled: ptr(false)})
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Store().RecordExecution(ctx, a.ID, i == 0))
	}
	require.NoError(t, s.Store().RecordExecution(ctx, b.ID, true))

	st, err := s.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{RuleID: a.ID, RuleName: "a", Executions: 4, Failures: 1, Successes: 3, SuccessRate: 75}, st)

	g, err := s.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, g.TotalRules)
	assert.Equal(t, 1, g.EnabledRules)
	assert.Equal(t, 1, g.DisabledRules)
	assert.Equal(t, int64(5), g.TotalExecutions)
	assert.Equal(t, int64(2), g.TotalFailures)
	assert.InDelta(t, 60.0, g.SuccessRate, 1e-9)
	assert.Equal(t, map[Trigger]int{TriggerDocumentCreated: 1, TriggerDocumentMoved: 1}, g.ByTriggerType)
}

func TestService_Test(t *testing.T) {
	ctx := context.Background()
	s := newService()
	r, err := s.Create(ctx, pdfSpec("Tag PDFs"))
	require.NoError(t, err)

	res, err := s.Test(ctx, r.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Matched, "defaults describe a PDF")

	res, err = s.Test(ctx, r.ID, map[string]any{"name": "a.docx", "mimeType": "application/vnd.openxmlformats-officedocument.wordprocessingml.document"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.NotEmpty(t, res.Message)

	_, err = s.Test(ctx, r.ID, map[string]any{"size": "big"})
	assert.True(t, IsValidation(err))
}

func TestValidateCondition(t *testing.T) {
	ok := ValidateCondition(&condition.Spec{Field: "size", Operator: "gt", Value: 10})
	assert.True(t, ok.Valid)

	bad := ValidateCondition(&condition.Spec{Type: condition.KindNot})
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Error)
}

func TestTemplatesAreValid(t *testing.T) {
	s := newService()
	templates := Templates()
	require.Len(t, templates, 4)
	for _, tpl := range templates {
		_, err := s.Build(tpl.Spec)
		assert.NoError(t, err, tpl.ID)
	}
}

func ptr[T any](v T) *T { return &v }
