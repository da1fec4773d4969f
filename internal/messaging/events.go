package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/metrics"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
	"github.com/gyaneshwarpardhi/docrules/internal/workerpool"
)

// DocumentEvent is the wire form of a document event. Folders optionally
// carries the folder ancestry of the document so folder scopes and move
// targets resolve.
type DocumentEvent struct {
	Trigger  string            `json:"trigger"`
	Actor    string            `json:"actor,omitempty"`
	Document map[string]any    `json:"document"`
	Folders  []document.Folder `json:"folders,omitempty"`
}

// Event is a decoded DocumentEvent.
type Event struct {
	Trigger  rule.Trigger
	Actor    string
	Document *document.Document
	Folders  []document.Folder
}

// FolderRegistry records the folders carried by events.
type FolderRegistry interface {
	PutFolder(f document.Folder) error
}

// RegisterFolders stores the folders of ev in reg.
func (ev Event) RegisterFolders(reg FolderRegistry) error {
	for i, f := range ev.Folders {
		if err := reg.PutFolder(f); err != nil {
			return fmt.Errorf("folders[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseEvent decodes and checks a JSON document event. SCHEDULED is not an
// event trigger. A missing actor means the system identity.
func ParseEvent(data []byte) (Event, error) {
	var wire DocumentEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decode document event: %w", err)
	}
	return wire.Decode()
}

func (w DocumentEvent) Decode() (Event, error) {
	t, ok := rule.ParseTrigger(w.Trigger)
	if !ok {
		return Event{}, fmt.Errorf("unknown trigger %q", w.Trigger)
	}
	if t == rule.TriggerScheduled {
		return Event{}, errors.New("SCHEDULED is not a document event trigger")
	}
	if len(w.Document) == 0 {
		return Event{}, errors.New("document event has no document")
	}
	doc, err := document.FromFields(w.Document)
	if err != nil {
		return Event{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.ID == "" {
		return Event{}, errors.New("document event has no document id")
	}
	actor := strings.TrimSpace(w.Actor)
	if actor == "" {
		actor = rule.SystemActor
	}
	for i, f := range w.Folders {
		if strings.TrimSpace(f.ID) == "" {
			return Event{}, fmt.Errorf("folders[%d] has no id", i)
		}
	}
	return Event{Trigger: t, Actor: actor, Document: doc, Folders: w.Folders}, nil
}

// EventHandler runs the rules for one event. *engine.Engine implements it.
type EventHandler interface {
	EvaluateAndExecute(ctx context.Context, actor string, doc *document.Document, trigger rule.Trigger) ([]*engine.ExecutionResult, error)
}

// Subscriber consumes document events from NATS and hands them to a
// bounded worker pool. Events arriving while the queue is full, or after
// Close, are dropped.
type Subscriber struct {
	handler EventHandler
	folders FolderRegistry
	pool    *workerpool.Pool[Event]
	logger  *slog.Logger
	sub     *nats.Subscription

	mu     sync.RWMutex
	closed bool
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithFolderRegistry registers the folders of each event before it is processed.
func WithFolderRegistry(r FolderRegistry) SubscriberOption {
	return func(s *Subscriber) { s.folders = r }
}

func NewSubscriber(ctx context.Context, h EventHandler, workers, depth int, logger *slog.Logger, opts ...SubscriberOption) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{handler: h, logger: logger}
	for _, o := range opts {
		o(s)
	}
	s.pool = workerpool.New(ctx, workers, depth, s.process)
	return s
}

// Subscribe starts receiving events on subject.
func (s *Subscriber) Subscribe(nc *nats.Conn, subject string) error {
	if subject == "" {
		subject = DefaultEventSubject
	}
	sub, err := nc.Subscribe(subject, s.HandleMsg)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to document events", "subject", subject)
	return nil
}

// HandleMsg is the NATS message callback.
func (s *Subscriber) HandleMsg(m *nats.Msg) {
	ev, err := ParseEvent(m.Data)
	if err != nil {
		metrics.DocumentEventsDropped.Inc()
		s.logger.Warn("dropping malformed document event", "subject", m.Subject, "err", err)
		return
	}
	s.Enqueue(ev)
}

// Enqueue queues ev without blocking and reports whether it was accepted.
func (s *Subscriber) Enqueue(ev Event) bool {
	metrics.DocumentEventsReceived.WithLabelValues(string(ev.Trigger)).Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.DocumentEventsDropped.Inc()
		s.logger.Warn("subscriber closed, dropping document event",
			"trigger", string(ev.Trigger), "document_id", ev.Document.ID)
		return false
	}
	if !s.pool.TrySubmit(ev) {
		metrics.DocumentEventsDropped.Inc()
		s.logger.Warn("event queue full, dropping document event",
			"trigger", string(ev.Trigger), "document_id", ev.Document.ID, "queue_cap", s.pool.Cap())
		return false
	}
	return true
}

func (s *Subscriber) process(ctx context.Context, ev Event) {
	if s.folders != nil {
		if err := ev.RegisterFolders(s.folders); err != nil {
			s.logger.Warn("document event carries an invalid folder",
				"trigger", string(ev.Trigger), "document_id", ev.Document.ID, "err", err)
			return
		}
	}
	results, err := s.handler.EvaluateAndExecute(ctx, ev.Actor, ev.Document, ev.Trigger)
	if err != nil {
		s.logger.Error("document event processing failed",
			"trigger", string(ev.Trigger), "document_id", ev.Document.ID, "err", err)
		return
	}
	matched := 0
	for _, r := range results {
		if r.ConditionMatched {
			matched++
		}
	}
	s.logger.Debug("document event processed",
		"trigger", string(ev.Trigger), "document_id", ev.Document.ID, "rules", len(results), "matched", matched)
}

// QueueUtilization returns the occupied fraction of the event queue.
func (s *Subscriber) QueueUtilization() float64 {
	if s.pool.Cap() == 0 {
		return 0
	}
	return float64(s.pool.Len()) / float64(s.pool.Cap())
}

// Close stops the subscription, rejects further events and waits for the
// workers to exit. Queued events are processed only while the context given
// to NewSubscriber is live; after cancellation the workers stop and the
// remaining queue is discarded.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "err", err)
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.pool.Drain()
}
