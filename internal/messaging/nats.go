// Package messaging carries rule side effects and document events over NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
)

const (
	DefaultNotificationSubject = "docrules.notifications"
	DefaultWorkflowSubject     = "docrules.workflows.start"
	DefaultEventSubject        = "docrules.documents.events"
)

// Publisher is the part of *nats.Conn the outbound adapters need.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server and keeps reconnecting in the background.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func publishJSON(ctx context.Context, pub Publisher, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", subject, err)
	}
	if err := pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Notifier publishes SEND_NOTIFICATION actions.
type Notifier struct {
	pub     Publisher
	subject string
}

func NewNotifier(pub Publisher, subject string) *Notifier {
	if subject == "" {
		subject = DefaultNotificationSubject
	}
	return &Notifier{pub: pub, subject: subject}
}

func (n *Notifier) Notify(ctx context.Context, msg action.Notification) error {
	return publishJSON(ctx, n.pub, n.subject, notificationMessage{
		Recipient:  msg.Recipient,
		Type:       msg.Kind,
		Message:    msg.Message,
		DocumentID: msg.DocumentID,
		Actor:      msg.Actor,
		SentAt:     time.Now().UTC(),
	})
}

type notificationMessage struct {
	Recipient  string    `json:"recipient"`
	Type       string    `json:"type,omitempty"`
	Message    string    `json:"message"`
	DocumentID string    `json:"documentId"`
	Actor      string    `json:"actor"`
	SentAt     time.Time `json:"sentAt"`
}

// WorkflowStarter publishes START_WORKFLOW actions for the workflow service.
type WorkflowStarter struct {
	pub     Publisher
	subject string
}

func NewWorkflowStarter(pub Publisher, subject string) *WorkflowStarter {
	if subject == "" {
		subject = DefaultWorkflowSubject
	}
	return &WorkflowStarter{pub: pub, subject: subject}
}

func (w *WorkflowStarter) Start(ctx context.Context, req action.WorkflowRequest) error {
	return publishJSON(ctx, w.pub, w.subject, workflowMessage{
		WorkflowKey: req.WorkflowKey,
		DocumentID:  req.DocumentID,
		Actor:       req.Actor,
		Variables:   req.Variables,
	})
}

type workflowMessage struct {
	WorkflowKey string         `json:"workflowKey"`
	DocumentID  string         `json:"documentId"`
	Actor       string         `json:"actor"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// LogNotifier stands in for NATS when no server is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, msg action.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"recipient", msg.Recipient, "type", msg.Kind, "document_id", msg.DocumentID, "actor", msg.Actor, "message", msg.Message)
	return nil
}
