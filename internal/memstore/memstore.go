// Package memstore is an in-memory document repository. It implements the
// collaborators the rule engine calls (tags, categories, folders, document
// persistence) and the candidate queries of the scheduler.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrFolderNotFound   = errors.New("folder not found")
	ErrInvalidFolder    = errors.New("invalid folder")
)

// Store holds documents, folders and categories.
type Store struct {
	mu         sync.RWMutex
	docs       map[string]*document.Document
	folders    map[string]document.Folder
	categories map[string]string // lower-case name -> canonical name
	now        func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:       make(map[string]*document.Document),
		folders:    make(map[string]document.Folder),
		categories: make(map[string]string),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for modification times.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddFolder creates a folder under parentID ("" for a root) and returns its id.
func (s *Store) AddFolder(name, parentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" {
		if _, ok := s.folders[parentID]; !ok {
			return "", fmt.Errorf("%w: %s", ErrFolderNotFound, parentID)
		}
	}
	id := uuid.NewString()
	s.folders[id] = document.Folder{ID: id, Name: name, ParentID: parentID}
	return id, nil
}

// PutFolder registers f under its own id, replacing an earlier definition.
// The parent need not be known yet; lookups stop at the first unknown folder.
func (s *Store) PutFolder(f document.Folder) error {
	if _, err := uuid.Parse(f.ID); err != nil {
		return fmt.Errorf("%w: folder id %q is not a UUID", ErrInvalidFolder, f.ID)
	}
	if f.ParentID != "" {
		if _, err := uuid.Parse(f.ParentID); err != nil {
			return fmt.Errorf("%w: parent id %q is not a UUID", ErrInvalidFolder, f.ParentID)
		}
		if f.ParentID == f.ID {
			return fmt.Errorf("%w: folder %s is its own parent", ErrInvalidFolder, f.ID)
		}
	}
	if strings.TrimSpace(f.Name) == "" || strings.Contains(f.Name, "/") {
		return fmt.Errorf("%w: bad folder name %q", ErrInvalidFolder, f.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[f.ID] = f
	return nil
}

// Folders lists the registered folders ordered by path.
func (s *Store) Folders() []document.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]document.Folder, 0, len(s.folders))
	paths := make(map[string]string, len(s.folders))
	for id, f := range s.folders {
		out = append(out, f)
		paths[id] = s.folderPath(id)
	}
	sort.Slice(out, func(i, j int) bool {
		if paths[out[i].ID] != paths[out[j].ID] {
			return paths[out[i].ID] < paths[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Put stores a copy of doc, assigning an id and path when missing. A zero
// ModifiedAt is set to now.
func (s *Store) Put(doc *document.Document) *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := doc.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = document.StatusActive
	}
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = s.now()
	}
	if c.Path == "" {
		c.Path = path.Join(s.folderPath(c.ParentID), c.Name)
	}
	s.docs[c.ID] = c
	return c.Clone()
}

// Get returns a copy of a document.
func (s *Store) Get(_ context.Context, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return d.Clone(), nil
}

// Save persists a document mutated by an action.
func (s *Store) Save(_ context.Context, _ string, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.ID)
	}
	c := doc.Clone()
	c.ModifiedAt = s.now()
	s.docs[doc.ID] = c
	return nil
}

// FindModifiedSince returns up to limit live documents modified at or after
// since, oldest first.
func (s *Store) FindModifiedSince(_ context.Context, since time.Time, limit int) ([]*document.Document, error) {
	return s.modifiedSince(since, limit, func(*document.Document) bool { return true }), nil
}

// FindModifiedSinceInFolder is FindModifiedSince restricted to a folder subtree.
func (s *Store) FindModifiedSinceInFolder(_ context.Context, since time.Time, folderID string, limit int) ([]*document.Document, error) {
	return s.modifiedSince(since, limit, func(d *document.Document) bool {
		return s.isWithin(d.ParentID, folderID)
	}), nil
}

func (s *Store) modifiedSince(since time.Time, limit int, keep func(*document.Document) bool) []*document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*document.Document
	for _, d := range s.docs {
		if d.Status == document.StatusDeleted || d.ModifiedAt.Before(since) || !keep(d) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.Before(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IsWithin reports whether folderID is ancestorID or lies beneath it.
func (s *Store) IsWithin(_ context.Context, folderID, ancestorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.folders[ancestorID]; !ok {
		return false, fmt.Errorf("%w: %s", ErrFolderNotFound, ancestorID)
	}
	return s.isWithin(folderID, ancestorID), nil
}

// isWithin must be called with the lock held.
func (s *Store) isWithin(folderID, ancestorID string) bool {
	seen := make(map[string]bool)
	for id := folderID; id != "" && !seen[id]; id = s.folders[id].ParentID {
		if id == ancestorID {
			return true
		}
		seen[id] = true
	}
	return false
}

// folderPath must be called with the lock held.
func (s *Store) folderPath(id string) string {
	var parts []string
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		f, ok := s.folders[id]
		if !ok {
			break
		}
		parts = append([]string{f.Name}, parts...)
		seen[id] = true
		id = f.ParentID
	}
	return "/" + strings.Join(parts, "/")
}

// AddTag implements the tag collaborator. Adding a present tag is a no-op.
func (s *Store) AddTag(_ context.Context, _, documentID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[documentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if !d.HasTag(tag) {
		d.Tags = append(d.Tags, tag)
		d.ModifiedAt = s.now()
	}
	return nil
}

// RemoveTag implements the tag collaborator.
func (s *Store) RemoveTag(_ context.Context, _, documentID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[documentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	for i, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			d.Tags = append(d.Tags[:i], d.Tags[i+1:]...)
			d.ModifiedAt = s.now()
			return true, nil
		}
	}
	return false, nil
}

// FindOrCreate implements the category collaborator.
func (s *Store) FindOrCreate(_ context.Context, _, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("category name is empty")
	}
	if canonical, ok := s.categories[key]; ok {
		return canonical, nil
	}
	s.categories[key] = strings.TrimSpace(name)
	return s.categories[key], nil
}

// Categories lists the known category names.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Move implements the node collaborator.
func (s *Store) Move(_ context.Context, _, documentID, folderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[documentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if _, ok := s.folders[folderID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	d.ParentID = folderID
	d.Path = path.Join(s.folderPath(folderID), d.Name)
	d.ModifiedAt = s.now()
	return d.Path, nil
}

// Copy implements the node collaborator. An empty newName keeps the name.
func (s *Store) Copy(_ context.Context, actor, documentID, folderID, newName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[documentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if _, ok := s.folders[folderID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	c := d.Clone()
	c.ID = uuid.NewString()
	if newName != "" {
		c.Name = newName
	}
	c.ParentID = folderID
	c.Path = path.Join(s.folderPath(folderID), c.Name)
	c.CreatedBy = actor
	c.Locked, c.LockedBy, c.LockedAt = false, "", nil
	c.ModifiedAt = s.now()
	s.docs[c.ID] = c
	return c.ID, nil
}
