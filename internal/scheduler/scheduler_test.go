package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/audit"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
	"github.com/gyaneshwarpardhi/docrules/internal/cronexpr"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/memstore"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

var now = time.Date(2024, 3, 10, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

type harness struct {
	s     *Scheduler
	rules *rule.InMemoryStore
	docs  *memstore.Store
	audit *audit.Recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	docs := memstore.New().WithClock(clock)
	rules := rule.NewInMemoryStore()
	d := &action.Dispatcher{Tags: docs, Categories: docs, Nodes: docs, Documents: docs, Now: clock}
	eng := engine.New(rules, d, engine.WithFolders(docs), engine.WithClock(clock))
	rec := &audit.Recorder{}
	return &harness{
		s:     New(rules, eng, docs, rec, cfg, WithClock(clock)),
		rules: rules,
		docs:  docs,
		audit: rec,
	}
}

func (h *harness) put(t *testing.T, name, mime string, age time.Duration) *document.Document {
	t.Helper()
	return h.docs.Put(&document.Document{Name: name, MimeType: mime, ModifiedAt: now.Add(-age)})
}

func (h *harness) tagged(t *testing.T, doc *document.Document, tag string) bool {
	t.Helper()
	got, err := h.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	return got.HasTag(tag)
}

func scheduled(id string, acts ...action.Action) *rule.Rule {
	return &rule.Rule{
		ID:             id,
		Name:           id,
		Trigger:        rule.TriggerScheduled,
		CronExpression: "0 0 * * * *",
		Enabled:        true,
		Actions:        acts,
	}
}

func tag(name string) action.Action { return action.Action{Payload: action.AddTag{TagName: name}} }

func TestTick_FirstRunUsesDayLookback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	old := h.put(t, "old.pdf", "application/pdf", 48*time.Hour)
	a := h.put(t, "a.pdf", "application/pdf", 2*time.Hour)
	b := h.put(t, "b.png", "image/png", time.Hour)
	require.NoError(t, h.rules.Create(ctx, scheduled("r", tag("seen"))))

	n, err := h.s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, h.tagged(t, old, "seen"))
	assert.True(t, h.tagged(t, a, "seen"))
	assert.True(t, h.tagged(t, b, "seen"))

	batches := h.audit.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Processed)
	assert.Equal(t, 2, batches[0].Succeeded)
	assert.Equal(t, 0, batches[0].Failed)
	assert.Equal(t, rule.SystemActor, batches[0].Actor)
	assert.Equal(t, audit.EventBatchCompleted, batches[0].EventType())

	r, _ := h.rules.Get(ctx, "r")
	require.NotNil(t, r.LastRunAt)
	require.NotNil(t, r.NextRunAt)
	assert.Equal(t, now, *r.LastRunAt)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC), *r.NextRunAt)
	assert.Equal(t, int64(2), r.ExecutionCount)

	due, _ := h.rules.ListDueScheduled(ctx, now)
	assert.Empty(t, due)
}

func TestTick_HourlyCronAdvancesPastLastRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	last := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	next := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	before := h.put(t, "before.pdf", "application/pdf", 150*time.Minute) // 08:00
	after := h.put(t, "after.pdf", "application/pdf", time.Hour)         // 09:30
	r := scheduled("r", tag("seen"))
	r.LastRunAt, r.NextRunAt = &last, &next
	require.NoError(t, h.rules.Create(ctx, r))

	_, err := h.s.Tick(ctx)
	require.NoError(t, err)

	assert.False(t, h.tagged(t, before, "seen"), "documents older than the last run are not candidates")
	assert.True(t, h.tagged(t, after, "seen"))

	got, _ := h.rules.Get(ctx, "r")
	assert.True(t, got.NextRunAt.After(now))
	assert.Equal(t, 0, got.NextRunAt.Minute())
	assert.Equal(t, 11, got.NextRunAt.Hour())
}

func TestTick_TimezoneDrivesNextRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	r := scheduled("r")
	r.CronExpression = "0 9 * * *"
	r.Timezone = "Asia/Tokyo"
	require.NoError(t, h.rules.Create(ctx, r))

	_, err := h.s.Tick(ctx)
	require.NoError(t, err)

	got, _ := h.rules.Get(ctx, "r")
	require.NotNil(t, got.NextRunAt)
	// 10:30 UTC is 19:30 in Tokyo, so the next 09:00 there is 00:00 UTC on the 11th.
	assert.True(t, got.NextRunAt.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))
}

func TestTick_InvalidCronDisablesRule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	r := scheduled("broken", tag("seen"))
	r.CronExpression = "every now and then"
	require.NoError(t, h.rules.Create(ctx, r))
	doc := h.put(t, "a.pdf", "application/pdf", time.Hour)

	n, err := h.s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.tagged(t, doc, "seen"), "the batch still runs before the rule is disabled")

	got, _ := h.rules.Get(ctx, "broken")
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastRunAt)
	assert.Nil(t, got.NextRunAt)

	due, _ := h.rules.ListDueScheduled(ctx, now.Add(24*time.Hour))
	assert.Empty(t, due)
	n, err = h.s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTick_SkipsRulesNotYetDue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	later := now.Add(10 * time.Minute)
	r := scheduled("later")
	r.NextRunAt = &later
	require.NoError(t, h.rules.Create(ctx, r))

	n, err := h.s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.audit.Batches())
}

func TestTick_MimeScopeAndItemLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	first := h.put(t, "1.pdf", "application/pdf", 3*time.Hour)
	h.put(t, "2.png", "image/png", 2*time.Hour)
	third := h.put(t, "3.pdf", "application/pdf", time.Hour)
	r := scheduled("pdfs", tag("seen"))
	r.ScopeMimeTypes = []string{"application/pdf"}
	r.MaxItemsPerRun = 2
	require.NoError(t, h.rules.Create(ctx, r))

	_, err := h.s.Tick(ctx)
	require.NoError(t, err)

	assert.True(t, h.tagged(t, first, "seen"))
	assert.False(t, h.tagged(t, third, "seen"), "beyond the per-run limit")
	require.Len(t, h.audit.Batches(), 1)
	assert.Equal(t, 1, h.audit.Batches()[0].Processed)
}

func TestTick_FolderScope(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	finance, _ := h.docs.AddFolder("Finance", "")
	invoices, _ := h.docs.AddFolder("Invoices", finance)
	in := h.docs.Put(&document.Document{Name: "i.pdf", ParentID: invoices, ModifiedAt: now.Add(-time.Hour)})
	out := h.put(t, "o.pdf", "application/pdf", time.Hour)
	r := scheduled("fin", tag("finance"))
	r.ScopeFolderID = finance
	require.NoError(t, h.rules.Create(ctx, r))

	_, err := h.s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, h.tagged(t, in, "finance"))
	assert.False(t, h.tagged(t, out, "finance"))
}

func TestTick_CountsMatchedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.put(t, "a.pdf", "application/pdf", time.Hour)
	h.put(t, "b.png", "image/png", time.Hour)
	r := scheduled("move", action.Action{Payload: action.MoveToFolder{FolderID: "0b7e6c55-2c1d-4a8e-b5b1-8d6f1e0c9a11"}})
	r.Condition = condition.Field("mimeType", condition.OpEquals, "application/pdf")
	require.NoError(t, h.rules.Create(ctx, r))

	_, err := h.s.Tick(ctx)
	require.NoError(t, err)

	batches := h.audit.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Processed)
	assert.Equal(t, 0, batches[0].Succeeded)
	assert.Equal(t, 1, batches[0].Failed)
	assert.Equal(t, audit.EventBatchPartial, batches[0].EventType())

	got, _ := h.rules.Get(ctx, "move")
	assert.Equal(t, int64(1), got.ExecutionCount)
	assert.Equal(t, int64(1), got.FailureCount)
	assert.NotNil(t, got.NextRunAt)
}

type failingRepo struct{}

func (failingRepo) FindModifiedSince(context.Context, time.Time, int) ([]*document.Document, error) {
	return nil, errors.New("database unavailable")
}

func (failingRepo) FindModifiedSinceInFolder(context.Context, time.Time, string, int) ([]*document.Document, error) {
	return nil, errors.New("database unavailable")
}

func TestTick_QueryFailureAdvancesAndAudits(t *testing.T) {
	ctx := context.Background()
	rules := rule.NewInMemoryStore()
	require.NoError(t, rules.Create(ctx, scheduled("r")))
	rec := &audit.Recorder{}
	s := New(rules, engine.New(rules, &action.Dispatcher{}), failingRepo{}, rec, Config{}, WithClock(clock))

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	got, _ := rules.Get(ctx, "r")
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))
	assert.True(t, got.Enabled)

	batches := rec.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, audit.EventBatchFailed, batches[0].EventType())
	assert.Equal(t, "r", batches[0].RuleID)
	assert.Contains(t, batches[0].Error, "database unavailable")
	assert.Zero(t, batches[0].Processed)
}

type recordingExecutor struct {
	mu     sync.Mutex
	actors []string
}

func (e *recordingExecutor) ExecuteRule(_ context.Context, actor string, r *rule.Rule, doc *document.Document, trigger rule.Trigger) *engine.ExecutionResult {
	e.mu.Lock()
	e.actors = append(e.actors, actor)
	e.mu.Unlock()
	return &engine.ExecutionResult{RuleID: r.ID, DocumentID: doc.ID, Trigger: trigger, ConditionMatched: true, Success: true, Outcome: engine.OutcomeFull}
}

func TestTick_RunsAsOwner(t *testing.T) {
	ctx := context.Background()
	docs := memstore.New()
	docs.Put(&document.Document{Name: "a.pdf", ModifiedAt: now.Add(-time.Minute)})
	rules := rule.NewInMemoryStore()
	owned := scheduled("owned")
	owned.Owner = "carol"
	require.NoError(t, rules.Create(ctx, owned))

	exec := &recordingExecutor{}
	s := New(rules, exec, docs, &audit.Recorder{}, Config{}, WithClock(clock))
	_, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, exec.actors)
}

func TestTick_ParallelWorkers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Workers: 4})
	doc := h.put(t, "a.pdf", "application/pdf", time.Minute)
	names := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range names {
		require.NoError(t, h.rules.Create(ctx, scheduled(id, tag(id))))
	}

	n, err := h.s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, h.audit.Batches(), 5)
	for _, id := range names {
		assert.True(t, h.tagged(t, doc, id))
		got, _ := h.rules.Get(ctx, id)
		assert.NotNil(t, got.LastRunAt, id)
	}
}

func TestTriggerNow(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects event rules", func(t *testing.T) {
		h := newHarness(t, Config{})
		require.NoError(t, h.rules.Create(ctx, &rule.Rule{ID: "ev", Name: "ev", Trigger: rule.TriggerDocumentCreated, Enabled: true}))
		_, err := h.s.TriggerNow(ctx, "ev")
		assert.ErrorIs(t, err, rule.ErrNotScheduled)
	})

	t.Run("unknown rule", func(t *testing.T) {
		h := newHarness(t, Config{})
		_, err := h.s.TriggerNow(ctx, "missing")
		assert.ErrorIs(t, err, rule.ErrNotFound)
	})

	t.Run("uses the manual backfill window", func(t *testing.T) {
		h := newHarness(t, Config{})
		stale := h.put(t, "stale.pdf", "application/pdf", time.Hour)
		fresh := h.put(t, "fresh.pdf", "application/pdf", 10*time.Minute)
		future := now.Add(6 * time.Hour)
		r := scheduled("r", tag("manual"))
		r.NextRunAt = &future
		r.ManualBackfillMinutes = 30
		require.NoError(t, h.rules.Create(ctx, r))

		b, err := h.s.TriggerNow(ctx, "r")
		require.NoError(t, err)
		assert.True(t, b.Manual)
		assert.Equal(t, 1, b.Processed)
		assert.False(t, h.tagged(t, stale, "manual"))
		assert.True(t, h.tagged(t, fresh, "manual"))

		got, _ := h.rules.Get(ctx, "r")
		assert.Equal(t, time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC), *got.NextRunAt)
	})

	t.Run("refuses a rule already running", func(t *testing.T) {
		h := newHarness(t, Config{})
		require.NoError(t, h.rules.Create(ctx, scheduled("r")))
		require.True(t, h.s.acquire("r"))
		defer h.s.release("r")

		_, err := h.s.TriggerNow(ctx, "r")
		assert.ErrorIs(t, err, ErrRuleRunning)
	})
}

func TestValidateCron(t *testing.T) {
	h := newHarness(t, Config{})

	times, err := h.s.ValidateCron("@daily", "UTC", 0)
	require.NoError(t, err)
	require.Len(t, times, DefaultPreviewCount)
	assert.True(t, times[0].Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))

	_, err = h.s.ValidateCron("61 * * * *", "UTC", 3)
	assert.ErrorIs(t, err, cronexpr.ErrInvalid)

	_, err = h.s.ValidateCron("@hourly", "Mars/Olympus", 3)
	assert.ErrorIs(t, err, cronexpr.ErrInvalid)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond})
	require.NoError(t, h.rules.Create(context.Background(), scheduled("r")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(h.audit.Batches()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
