package main

import (
	"context"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/memstore"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

// documentIngest records the document carried by an event in the corpus
// before its rules run, so actions and later scheduled runs can see it.
type documentIngest struct {
	docs *memstore.Store
	eng  *engine.Engine
}

func (d documentIngest) EvaluateAndExecute(ctx context.Context, actor string, doc *document.Document, trigger rule.Trigger) ([]*engine.ExecutionResult, error) {
	return d.eng.EvaluateAndExecute(ctx, actor, d.docs.Put(doc), trigger)
}
