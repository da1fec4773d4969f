package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/memstore"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCronCommand(t *testing.T) {
	out, err := execute(t, "validate-cron", "0 0 2 * * *", "--timezone", "Europe/Berlin", "-n", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Contains(t, l, "T02:00:00+0")
	}

	_, err = execute(t, "validate-cron", "61 * * * *")
	assert.Error(t, err)
}

func TestCheckConditionCommand(t *testing.T) {
	out, err := execute(t, "check-condition", `mimeType == "application/pdf" AND NOT name contains "draft"`)
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "AND"`)
	assert.Contains(t, out, `"type": "NOT"`)

	_, err = execute(t, "check-condition", `(name contains "x"`)
	assert.Error(t, err)
}

func TestCheckRulesCommand(t *testing.T) {
	out, err := execute(t, "check-rules", "--config", "../../configs/docrules.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Tag PDFs")
	assert.Contains(t, out, "Nightly archive of drafts")
	assert.Contains(t, out, "4 rules OK")

	_, err = execute(t, "check-rules", "--config", "does-not-exist.yaml")
	assert.Error(t, err)
}

func TestMigrateCommand_RejectsUnknownDirection(t *testing.T) {
	_, err := execute(t, "migrate", "sideways", "--dsn", "postgres://localhost/none")
	assert.Error(t, err)
}

func TestDocumentIngest_StoresDocumentBeforeRunningRules(t *testing.T) {
	ctx := context.Background()
	docs := memstore.New()
	rules := rule.NewService(rule.NewInMemoryStore())
	_, err := rules.Create(ctx, rule.Spec{
		Name:    "tag pdfs",
		Trigger: rule.TriggerDocumentCreated,
		Actions: []action.Spec{{Type: action.TypeAddTag, Params: action.Params{action.ParamTagName: "pdf"}}},
	})
	require.NoError(t, err)

	disp := &action.Dispatcher{Tags: docs, Categories: docs, Nodes: docs, Documents: docs}
	intake := documentIngest{docs: docs, eng: engine.New(rules.Store(), disp, engine.WithFolders(docs))}

	results, err := intake.EvaluateAndExecute(ctx, "alice", &document.Document{ID: "d1", Name: "a.pdf", MimeType: "application/pdf"}, rule.TriggerDocumentCreated)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	stored, err := docs.Get(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, stored.HasTag("pdf"))
	assert.Equal(t, "/a.pdf", stored.Path)
}

func TestBackgroundJoinWaitsForExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var finished atomic.Bool
	join := background(cancel, func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})
	assert.False(t, finished.Load())

	join()
	assert.True(t, finished.Load())
	assert.Error(t, ctx.Err())
}
