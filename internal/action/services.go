package action

import (
	"context"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

// Collaborators receive the acting identity explicitly so permission checks
// downstream see the rule owner (or "system") without ambient state.

// TagService attaches tags to documents. Both calls must tolerate the
// tag already being present or absent; RemoveTag reports whether it removed one.
type TagService interface {
	AddTag(ctx context.Context, actor, documentID, tag string) error
	RemoveTag(ctx context.Context, actor, documentID, tag string) (removed bool, err error)
}

// CategoryService resolves categories by name, creating missing ones.
// It returns the canonical category name.
type CategoryService interface {
	FindOrCreate(ctx context.Context, actor, name string) (string, error)
}

// NodeService moves and copies documents between folders. Move returns the
// document's new path.
type NodeService interface {
	Move(ctx context.Context, actor, documentID, folderID string) (newPath string, err error)
	Copy(ctx context.Context, actor, documentID, folderID, newName string) (copyID string, err error)
}

// DocumentWriter persists field mutations made by actions.
type DocumentWriter interface {
	Save(ctx context.Context, actor string, doc *document.Document) error
}

// Notification is a message addressed to a user or group.
type Notification struct {
	Recipient  string `json:"recipient"`
	Kind       string `json:"type,omitempty"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	Actor      string `json:"actor"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookRequest is a fully rendered outbound call.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// WebhookSender performs outbound calls. Implementations apply their own timeout.
type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) error
}

// WorkflowRequest asks an external engine to start a process for a document.
type WorkflowRequest struct {
	WorkflowKey string         `json:"workflow_key"`
	DocumentID  string         `json:"document_id"`
	Actor       string         `json:"actor"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// WorkflowStarter starts workflows. Implementations apply their own timeout.
type WorkflowStarter interface {
	Start(ctx context.Context, req WorkflowRequest) error
}
