package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
)

type captured struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []captured
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, captured{subject, data})
	return nil
}

func TestNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "")

	err := n.Notify(context.Background(), action.Notification{
		Recipient: "bob", Kind: "info", Message: "report.pdf arrived", DocumentID: "d1", Actor: "alice",
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultNotificationSubject, pub.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "bob", got["recipient"])
	assert.Equal(t, "d1", got["documentId"])
	assert.Equal(t, "alice", got["actor"])
}

func TestNotifier_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	err := NewNotifier(pub, "custom").Notify(context.Background(), action.Notification{Recipient: "bob"})
	assert.ErrorContains(t, err, "publish to custom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNotifier(&fakePublisher{}, "").Notify(ctx, action.Notification{Recipient: "bob"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkflowStarter(t *testing.T) {
	pub := &fakePublisher{}
	err := NewWorkflowStarter(pub, "").Start(context.Background(), action.WorkflowRequest{
		WorkflowKey: "approval", DocumentID: "d1", Actor: "alice", Variables: map[string]any{"level": "2"},
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultWorkflowSubject, pub.msgs[0].subject)
	assert.JSONEq(t, `{"workflowKey":"approval","documentId":"d1","actor":"alice","variables":{"level":"2"}}`,
		string(pub.msgs[0].data))
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"trigger":"document_created","document":{"id":"d1","name":"a.pdf","mimeType":"application/pdf"}}`))
	require.NoError(t, err)
	assert.Equal(t, rule.TriggerDocumentCreated, ev.Trigger)
	assert.Equal(t, rule.SystemActor, ev.Actor)
	assert.Equal(t, "a.pdf", ev.Document.Name)

	bad := []string{
		`not json`,
		`{"trigger":"NOPE","document":{"id":"d1"}}`,
		`{"trigger":"SCHEDULED","document":{"id":"d1"}}`,
		`{"trigger":"DOCUMENT_CREATED"}`,
		`{"trigger":"DOCUMENT_CREATED","document":{"name":"no id"}}`,
	}
	for _, b := range bad {
		_, err := ParseEvent([]byte(b))
		assert.Error(t, err, b)
	}
}

type fakeHandler struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (h *fakeHandler) EvaluateAndExecute(_ context.Context, actor string, doc *document.Document, trigger rule.Trigger) ([]*engine.ExecutionResult, error) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{Trigger: trigger, Actor: actor, Document: doc})
	return nil, nil
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestSubscriber_HandleMsg(t *testing.T) {
	h := &fakeHandler{}
	s := NewSubscriber(context.Background(), h, 2, 8, nil)

	s.HandleMsg(&nats.Msg{Subject: DefaultEventSubject,
		Data: []byte(`{"trigger":"DOCUMENT_MOVED","actor":"alice","document":{"id":"d1","name":"a.pdf"}}`)})
	s.HandleMsg(&nats.Msg{Subject: DefaultEventSubject, Data: []byte(`garbage`)})
	s.Close()

	require.Equal(t, 1, h.count())
	assert.Equal(t, rule.TriggerDocumentMoved, h.events[0].Trigger)
	assert.Equal(t, "alice", h.events[0].Actor)
}

func TestSubscriber_DropsWhenFull(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	s := NewSubscriber(context.Background(), h, 1, 1, nil)
	ev := Event{Trigger: rule.TriggerDocumentCreated, Actor: "a", Document: &document.Document{ID: "d"}}

	require.True(t, s.Enqueue(ev))
	// the single worker picks the first event up and blocks on it
	require.Eventually(t, func() bool { return s.pool.Len() == 0 }, time.Second, time.Millisecond)
	require.True(t, s.Enqueue(ev))
	assert.False(t, s.Enqueue(ev))

	close(h.block)
	s.Close()
	assert.Equal(t, 2, h.count())
}

func TestSubscriber_EnqueueAfterClose(t *testing.T) {
	h := &fakeHandler{}
	s := NewSubscriber(context.Background(), h, 1, 4, nil)
	ev := Event{Trigger: rule.TriggerDocumentCreated, Actor: "a", Document: &document.Document{ID: "d"}}
	require.True(t, s.Enqueue(ev))
	s.Close()

	assert.NotPanics(t, func() {
		assert.False(t, s.Enqueue(ev))
		s.HandleMsg(&nats.Msg{Data: []byte(`{"trigger":"DOCUMENT_CREATED","document":{"id":"d2"}}`)})
	})
	s.Close()
	assert.Equal(t, 1, h.count())
}

type folderSet struct {
	mu      sync.Mutex
	folders []document.Folder
}

func (f *folderSet) PutFolder(folder document.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if folder.Name == "" {
		return errors.New("folder has no name")
	}
	f.folders = append(f.folders, folder)
	return nil
}

func TestSubscriber_RegistersEventFolders(t *testing.T) {
	h := &fakeHandler{}
	reg := &folderSet{}
	s := NewSubscriber(context.Background(), h, 1, 4, nil, WithFolderRegistry(reg))

	s.HandleMsg(&nats.Msg{Data: []byte(`{
		"trigger": "DOCUMENT_CREATED",
		"document": {"id": "d1", "parentId": "f2"},
		"folders": [{"id": "f1", "name": "Finance"}, {"id": "f2", "name": "Invoices", "parent_id": "f1"}]
	}`)})
	s.HandleMsg(&nats.Msg{Data: []byte(`{
		"trigger": "DOCUMENT_CREATED",
		"document": {"id": "d2"},
		"folders": [{"id": "f3"}]
	}`)})
	s.Close()

	require.Equal(t, 1, h.count(), "an event with an invalid folder is not processed")
	assert.Equal(t, "d1", h.events[0].Document.ID)
	require.Len(t, reg.folders, 2)
	assert.Equal(t, "f1", reg.folders[1].ParentID)

	_, err := ParseEvent([]byte(`{"trigger":"DOCUMENT_CREATED","document":{"id":"d1"},"folders":[{"name":"x"}]}`))
	assert.Error(t, err)
}
