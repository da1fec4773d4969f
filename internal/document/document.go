package document

import (
	"path"
	"strings"
	"time"
)

// Status is the lifecycle state of a document node.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
	StatusDeleted  Status = "DELETED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusArchived, StatusDeleted:
		return st, true
	}
	return "", false
}

// Document is the canonical input model the rule engine evaluates and mutates.
type Document struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	MimeType    string         `json:"mime_type"`
	Size        int64          `json:"size"`
	TextContent string         `json:"text_content,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Path        string         `json:"path,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"` // empty = root
	Tags        []string       `json:"tags,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      Status         `json:"status,omitempty"`
	Locked      bool           `json:"locked"`
	LockedBy    string         `json:"locked_by,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	ModifiedAt  time.Time      `json:"modified_at"`
}

// Folder is a node of the folder tree. An empty ParentID is a root.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Extension returns the lower-cased file extension of the document name, or
// "" when the name has none. Dot-files such as ".env" have no extension.
func (d *Document) Extension() string {
	return Extension(d.Name)
}

// Extension is the package-level form of Document.Extension.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// HasTag reports whether the document carries the tag (case-insensitive).
func (d *Document) HasTag(name string) bool {
	return containsFold(d.Tags, name)
}

// HasCategory reports whether the document is in the category (case-insensitive).
func (d *Document) HasCategory(name string) bool {
	return containsFold(d.Categories, name)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = append([]string(nil), d.Tags...)
	c.Categories = append([]string(nil), d.Categories...)
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.LockedAt != nil {
		t := *d.LockedAt
		c.LockedAt = &t
	}
	return &c
}

// Dir returns the folder portion of the document path.
func (d *Document) Dir() string {
	if d.Path == "" {
		return ""
	}
	return path.Dir(d.Path)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
