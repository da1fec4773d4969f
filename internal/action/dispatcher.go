package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
	"github.com/gyaneshwarpardhi/docrules/internal/metrics"
)

// Result holds the outcome of executing a single action.
type Result struct {
	Type       Type          `json:"action_type"`
	Order      int           `json:"order"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// errSkipped signals an idempotent no-op (e.g. removing an absent tag).
var errSkipped = errors.New("skipped")

// Dispatcher executes actions against documents by delegating to the
// configured collaborators. A nil collaborator makes its actions fail.
type Dispatcher struct {
	Tags       TagService
	Categories CategoryService
	Nodes      NodeService
	Documents  DocumentWriter
	Notifier   Notifier
	Webhooks   WebhookSender
	Workflows  WorkflowStarter

	// BaseURL prefixes {downloadUrl} in webhook bodies.
	BaseURL string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Execute runs a against doc on behalf of actor. It never panics: missing
// parameters, collaborator errors and panics all become a failed Result.
// On success doc reflects the action's effect.
func (d *Dispatcher) Execute(ctx context.Context, actor string, a Action, doc *document.Document) (res Result) {
	start := time.Now()
	res = Result{Type: a.Type(), Order: a.Order}

	defer func() {
		if r := recover(); r != nil {
			res.Success, res.Skipped = false, false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
		res.DurationMs = res.Duration.Milliseconds()

		status := "success"
		switch {
		case !res.Success:
			status = "error"
			d.logger().Error("action failed",
				"action", string(res.Type), "document_id", docID(doc), "actor", actor, "err", res.Error)
		case res.Skipped:
			status = "skipped"
		}
		metrics.ActionsExecuted.WithLabelValues(string(res.Type), status).Inc()
	}()

	if a.Payload == nil {
		res.Error = "action has no type"
		return res
	}
	if doc == nil {
		res.Error = "no document"
		return res
	}
	if err := a.Payload.Validate(); err != nil {
		res.Error = err.Error()
		return res
	}

	msg, err := d.dispatch(ctx, actor, a.Payload, doc)
	switch {
	case errors.Is(err, errSkipped):
		res.Success, res.Skipped, res.Message = true, true, msg
	case err != nil:
		res.Error = err.Error()
	default:
		res.Success, res.Message = true, msg
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, actor string, p Payload, doc *document.Document) (string, error) {
	switch p := p.(type) {
	case AddTag:
		return d.addTag(ctx, actor, p, doc)
	case RemoveTag:
		return d.removeTag(ctx, actor, p, doc)
	case SetCategory:
		return d.setCategory(ctx, actor, p, doc)
	case RemoveCategory:
		return d.removeCategory(ctx, actor, p, doc)
	case MoveToFolder:
		return d.move(ctx, actor, p, doc)
	case CopyToFolder:
		return d.copy(ctx, actor, p, doc)
	case SetMetadata:
		return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
			if c.Metadata == nil {
				c.Metadata = make(map[string]any)
			}
			c.Metadata[p.Key] = p.Value
			return fmt.Sprintf("set metadata %s", p.Key), nil
		})
	case RemoveMetadata:
		if _, ok := doc.Metadata[p.Key]; !ok {
			return fmt.Sprintf("metadata %s not present", p.Key), errSkipped
		}
		return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
			delete(c.Metadata, p.Key)
			return fmt.Sprintf("removed metadata %s", p.Key), nil
		})
	case Rename:
		return d.rename(ctx, actor, p, doc)
	case SetStatus:
		st, _ := document.ParseStatus(string(p.Status))
		return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
			c.Status = st
			return fmt.Sprintf("status set to %s", st), nil
		})
	case LockDocument:
		now := d.now()
		return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
			c.Locked, c.LockedBy, c.LockedAt = true, actor, &now
			return "locked by " + actor, nil
		})
	case SendNotification:
		return d.notify(ctx, actor, p, doc)
	case Webhook:
		return d.webhook(ctx, p, doc)
	case StartWorkflow:
		return d.startWorkflow(ctx, actor, p, doc)
	}
	return "", fmt.Errorf("action type not supported: %s", p.Type())
}

func (d *Dispatcher) addTag(ctx context.Context, actor string, p AddTag, doc *document.Document) (string, error) {
	if d.Tags == nil {
		return "", errNotConfigured("tag service")
	}
	if err := d.Tags.AddTag(ctx, actor, doc.ID, p.TagName); err != nil {
		return "", fmt.Errorf("add tag %q: %w", p.TagName, err)
	}
	if !doc.HasTag(p.TagName) {
		doc.Tags = append(doc.Tags, p.TagName)
	}
	return "added tag " + p.TagName, nil
}

func (d *Dispatcher) removeTag(ctx context.Context, actor string, p RemoveTag, doc *document.Document) (string, error) {
	if d.Tags == nil {
		return "", errNotConfigured("tag service")
	}
	removed, err := d.Tags.RemoveTag(ctx, actor, doc.ID, p.TagName)
	if err != nil {
		return "", fmt.Errorf("remove tag %q: %w", p.TagName, err)
	}
	doc.Tags = without(doc.Tags, p.TagName)
	if !removed {
		return fmt.Sprintf("tag %s not present", p.TagName), errSkipped
	}
	return "removed tag " + p.TagName, nil
}

func (d *Dispatcher) setCategory(ctx context.Context, actor string, p SetCategory, doc *document.Document) (string, error) {
	if d.Categories == nil {
		return "", errNotConfigured("category service")
	}
	name, err := d.Categories.FindOrCreate(ctx, actor, p.CategoryName)
	if err != nil {
		return "", fmt.Errorf("find or create category %q: %w", p.CategoryName, err)
	}
	if doc.HasCategory(name) {
		return fmt.Sprintf("category %s already set", name), errSkipped
	}
	return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
		c.Categories = append(c.Categories, name)
		return "set category " + name, nil
	})
}

func (d *Dispatcher) removeCategory(ctx context.Context, actor string, p RemoveCategory, doc *document.Document) (string, error) {
	if !doc.HasCategory(p.CategoryName) {
		return fmt.Sprintf("category %s not present", p.CategoryName), errSkipped
	}
	return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
		c.Categories = without(c.Categories, p.CategoryName)
		return "removed category " + p.CategoryName, nil
	})
}

func (d *Dispatcher) move(ctx context.Context, actor string, p MoveToFolder, doc *document.Document) (string, error) {
	if d.Nodes == nil {
		return "", errNotConfigured("node service")
	}
	newPath, err := d.Nodes.Move(ctx, actor, doc.ID, p.FolderID)
	if err != nil {
		return "", fmt.Errorf("move to folder %s: %w", p.FolderID, err)
	}
	doc.ParentID = p.FolderID
	doc.Path = newPath
	return "moved to folder " + p.FolderID, nil
}

func (d *Dispatcher) copy(ctx context.Context, actor string, p CopyToFolder, doc *document.Document) (string, error) {
	if d.Nodes == nil {
		return "", errNotConfigured("node service")
	}
	name := p.NewName
	if p.Pattern != "" {
		name = ExpandName(p.Pattern, doc, d.now())
	}
	id, err := d.Nodes.Copy(ctx, actor, doc.ID, p.FolderID, name)
	if err != nil {
		return "", fmt.Errorf("copy to folder %s: %w", p.FolderID, err)
	}
	return fmt.Sprintf("copied to folder %s as %s", p.FolderID, id), nil
}

func (d *Dispatcher) rename(ctx context.Context, actor string, p Rename, doc *document.Document) (string, error) {
	name := p.NewName
	if p.Pattern != "" {
		name = ExpandName(p.Pattern, doc, d.now())
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("rename produced an empty name")
	}
	return d.mutate(ctx, actor, doc, func(c *document.Document) (string, error) {
		c.Name = name
		if c.Path != "" {
			c.Path = path.Join(c.Dir(), name)
		}
		return "renamed to " + name, nil
	})
}

func (d *Dispatcher) notify(ctx context.Context, actor string, p SendNotification, doc *document.Document) (string, error) {
	if d.Notifier == nil {
		return "", errNotConfigured("notifier")
	}
	n := Notification{
		Recipient:  p.Recipient,
		Kind:       p.Kind,
		Message:    ExpandMessage(p.Message, doc),
		DocumentID: doc.ID,
		Actor:      actor,
	}
	if err := d.Notifier.Notify(ctx, n); err != nil {
		return "", fmt.Errorf("notify %s: %w", p.Recipient, err)
	}
	return "notified " + p.Recipient, nil
}

func (d *Dispatcher) webhook(ctx context.Context, p Webhook, doc *document.Document) (string, error) {
	if d.Webhooks == nil {
		return "", errNotConfigured("webhook sender")
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = "POST"
	}
	req := WebhookRequest{
		URL:     p.URL,
		Method:  method,
		Headers: p.Headers,
		Body:    WebhookBody(p.Body, doc, d.BaseURL),
	}
	if err := d.Webhooks.Send(ctx, req); err != nil {
		return "", fmt.Errorf("webhook %s %s: %w", method, p.URL, err)
	}
	return fmt.Sprintf("webhook %s %s", method, p.URL), nil
}

func (d *Dispatcher) startWorkflow(ctx context.Context, actor string, p StartWorkflow, doc *document.Document) (string, error) {
	if d.Workflows == nil {
		return "", errNotConfigured("workflow starter")
	}
	req := WorkflowRequest{
		WorkflowKey: p.WorkflowKey,
		DocumentID:  doc.ID,
		Actor:       actor,
		Variables:   p.Variables,
	}
	if err := d.Workflows.Start(ctx, req); err != nil {
		return "", fmt.Errorf("start workflow %s: %w", p.WorkflowKey, err)
	}
	return "started workflow " + p.WorkflowKey, nil
}

// mutate applies fn to a copy of doc, persists the copy and only then
// publishes it back into doc, so a failed save leaves doc untouched.
func (d *Dispatcher) mutate(ctx context.Context, actor string, doc *document.Document, fn func(*document.Document) (string, error)) (string, error) {
	if d.Documents == nil {
		return "", errNotConfigured("document writer")
	}
	c := doc.Clone()
	msg, err := fn(c)
	if err != nil {
		return "", err
	}
	c.ModifiedAt = d.now()
	if err := d.Documents.Save(ctx, actor, c); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	*doc = *c
	return msg, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func errNotConfigured(what string) error {
	return fmt.Errorf("%s not configured", what)
}

func without(list []string, name string) []string {
	out := list[:0:0]
	for _, v := range list {
		if !strings.EqualFold(v, name) {
			out = append(out, v)
		}
	}
	return out
}

func docID(doc *document.Document) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}
