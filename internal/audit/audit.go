// Package audit records one summary entry per scheduled rule batch.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	EventBatchCompleted = "SCHEDULED_RULE_BATCH_COMPLETED"
	EventBatchPartial   = "SCHEDULED_RULE_BATCH_PARTIAL"
	EventBatchFailed    = "SCHEDULED_RULE_BATCH_FAILED"
)

// Batch summarizes one run of a scheduled rule over its candidate documents.
type Batch struct {
	RuleID     string
	RuleName   string
	Processed  int
	Succeeded  int
	Failed     int
	DurationMs int64
	Actor      string
	Manual     bool
	At         time.Time
	// Error is set when the run broke before or while processing documents.
	Error string
}

// EventType is FAILED when the run itself broke, COMPLETED when nothing
// failed and PARTIAL otherwise.
func (b Batch) EventType() string {
	if b.Error != "" {
		return EventBatchFailed
	}
	if b.Failed == 0 {
		return EventBatchCompleted
	}
	return EventBatchPartial
}

// Details renders the human-readable audit line.
func (b Batch) Details() string {
	if b.Error != "" {
		return fmt.Sprintf("Scheduled rule '%s' batch execution failed after %d documents in %dms: %s",
			b.RuleName, b.Processed, b.DurationMs, b.Error)
	}
	return fmt.Sprintf("Scheduled rule '%s' batch execution: %d documents processed (%d succeeded, %d failed) in %dms",
		b.RuleName, b.Processed, b.Succeeded, b.Failed, b.DurationMs)
}

// Sink stores batch records.
type Sink interface {
	LogScheduledRuleBatch(ctx context.Context, b Batch) error
}

// LogSink writes batch records as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) LogScheduledRuleBatch(ctx context.Context, b Batch) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	if b.Error != "" {
		level = slog.LevelError
	}
	l.Log(ctx, level, b.Details(),
		"event", b.EventType(),
		"rule", b.RuleName,
		"rule_id", b.RuleID,
		"actor", b.Actor,
		"processed", b.Processed,
		"succeeded", b.Succeeded,
		"failed", b.Failed,
		"duration_ms", b.DurationMs,
		"manual", b.Manual,
	)
	return nil
}

// Recorder keeps batches in memory, newest last.
type Recorder struct {
	mu      sync.Mutex
	batches []Batch
}

func (r *Recorder) LogScheduledRuleBatch(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

// Batches returns a copy of everything recorded so far.
func (r *Recorder) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}
