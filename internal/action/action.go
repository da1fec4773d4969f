package action

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

// Type is the tag of an action variant.
type Type string

const (
	TypeAddTag           Type = "ADD_TAG"
	TypeRemoveTag        Type = "REMOVE_TAG"
	TypeSetCategory      Type = "SET_CATEGORY"
	TypeRemoveCategory   Type = "REMOVE_CATEGORY"
	TypeMoveToFolder     Type = "MOVE_TO_FOLDER"
	TypeCopyToFolder     Type = "COPY_TO_FOLDER"
	TypeSetMetadata      Type = "SET_METADATA"
	TypeRemoveMetadata   Type = "REMOVE_METADATA"
	TypeRename           Type = "RENAME"
	TypeSetStatus        Type = "SET_STATUS"
	TypeLockDocument     Type = "LOCK_DOCUMENT"
	TypeSendNotification Type = "SEND_NOTIFICATION"
	TypeWebhook          Type = "WEBHOOK"
	TypeStartWorkflow    Type = "START_WORKFLOW"
)

// Action is one step of a rule's effect list.
type Action struct {
	Order           int
	ContinueOnError bool
	Payload         Payload
}

// Type returns the payload's tag, or "" for an empty action.
func (a Action) Type() Type {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Type()
}

// Payload is the typed parameter set of one action variant. The set of
// implementations is closed and listed in this file.
type Payload interface {
	Type() Type
	// Validate reports a missing or malformed required parameter.
	Validate() error
	isPayload()
}

type AddTag struct {
	TagName string
}

type RemoveTag struct {
	TagName string
}

type SetCategory struct {
	CategoryName string
}

type RemoveCategory struct {
	CategoryName string
}

type MoveToFolder struct {
	FolderID string
}

// CopyToFolder copies the document into FolderID. NewName is used as-is;
// Pattern is expanded with the rename tokens and wins over NewName.
type CopyToFolder struct {
	FolderID string
	NewName  string
	Pattern  string
}

type SetMetadata struct {
	Key   string
	Value any
}

type RemoveMetadata struct {
	Key string
}

// Rename sets a literal name or expands Pattern, which wins when both are set.
// Pattern tokens: {name} {date} {datetime} {id} {ext}.
type Rename struct {
	NewName string
	Pattern string
}

type SetStatus struct {
	Status document.Status
}

type LockDocument struct{}

// SendNotification delivers Message to Recipient. The message may reference
// {documentName} and {documentId}.
type SendNotification struct {
	Recipient string
	Message   string
	Kind      string
}

// Webhook calls URL. An empty Body sends the default JSON event; otherwise
// Body is a template over {documentId} {documentName} {mimeType} {size} {downloadUrl}.
type Webhook struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

type StartWorkflow struct {
	WorkflowKey string
	Variables   map[string]any
}

func (AddTag) Type() Type           { return TypeAddTag }
func (RemoveTag) Type() Type        { return TypeRemoveTag }
func (SetCategory) Type() Type      { return TypeSetCategory }
func (RemoveCategory) Type() Type   { return TypeRemoveCategory }
func (MoveToFolder) Type() Type     { return TypeMoveToFolder }
func (CopyToFolder) Type() Type     { return TypeCopyToFolder }
func (SetMetadata) Type() Type      { return TypeSetMetadata }
func (RemoveMetadata) Type() Type   { return TypeRemoveMetadata }
func (Rename) Type() Type           { return TypeRename }
func (SetStatus) Type() Type        { return TypeSetStatus }
func (LockDocument) Type() Type     { return TypeLockDocument }
func (SendNotification) Type() Type { return TypeSendNotification }
func (Webhook) Type() Type          { return TypeWebhook }
func (StartWorkflow) Type() Type    { return TypeStartWorkflow }

func (AddTag) isPayload()           {}
func (RemoveTag) isPayload()        {}
func (SetCategory) isPayload()      {}
func (RemoveCategory) isPayload()   {}
func (MoveToFolder) isPayload()     {}
func (CopyToFolder) isPayload()     {}
func (SetMetadata) isPayload()      {}
func (RemoveMetadata) isPayload()   {}
func (Rename) isPayload()           {}
func (SetStatus) isPayload()        {}
func (LockDocument) isPayload()     {}
func (SendNotification) isPayload() {}
func (Webhook) isPayload()          {}
func (StartWorkflow) isPayload()    {}

func (p AddTag) Validate() error    { return required(p.Type(), ParamTagName, p.TagName) }
func (p RemoveTag) Validate() error { return required(p.Type(), ParamTagName, p.TagName) }
func (p SetCategory) Validate() error {
	return required(p.Type(), ParamCategoryName, p.CategoryName)
}
func (p RemoveCategory) Validate() error {
	return required(p.Type(), ParamCategoryName, p.CategoryName)
}
func (p MoveToFolder) Validate() error { return folderID(p.Type(), p.FolderID) }
func (p CopyToFolder) Validate() error { return folderID(p.Type(), p.FolderID) }
func (p SetMetadata) Validate() error  { return required(p.Type(), ParamKey, p.Key) }
func (p RemoveMetadata) Validate() error {
	return required(p.Type(), ParamKey, p.Key)
}

func (p Rename) Validate() error {
	if strings.TrimSpace(p.NewName) == "" && strings.TrimSpace(p.Pattern) == "" {
		return fmt.Errorf("%w: %s requires %s or %s", ErrMissingParam, p.Type(), ParamNewName, ParamPattern)
	}
	return nil
}

func (p SetStatus) Validate() error {
	if p.Status == "" {
		return fmt.Errorf("%w: %s requires %s", ErrMissingParam, p.Type(), ParamStatus)
	}
	if _, ok := document.ParseStatus(string(p.Status)); !ok {
		return fmt.Errorf("%s: unknown status %q", p.Type(), p.Status)
	}
	return nil
}

func (LockDocument) Validate() error { return nil }

func (p SendNotification) Validate() error {
	if err := required(p.Type(), ParamRecipient, p.Recipient); err != nil {
		return err
	}
	return required(p.Type(), ParamMessage, p.Message)
}

func (p Webhook) Validate() error {
	if err := required(p.Type(), ParamURL, p.URL); err != nil {
		return err
	}
	switch strings.ToUpper(p.Method) {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE":
		return nil
	}
	return fmt.Errorf("%s: unsupported method %q", p.Type(), p.Method)
}

func (p StartWorkflow) Validate() error {
	return required(p.Type(), ParamWorkflowKey, p.WorkflowKey)
}

func required(t Type, key, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s requires %s", ErrMissingParam, t, key)
	}
	return nil
}

func folderID(t Type, id string) error {
	if err := required(t, ParamFolderID, id); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s: invalid %s %q: %w", t, ParamFolderID, id, err)
	}
	return nil
}
