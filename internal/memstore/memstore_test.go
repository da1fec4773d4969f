package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

func TestFoldersAndPaths(t *testing.T) {
	ctx := context.Background()
	s := New()
	finance, err := s.AddFolder("Finance", "")
	require.NoError(t, err)
	invoices, err := s.AddFolder("Invoices", finance)
	require.NoError(t, err)
	other, _ := s.AddFolder("Other", "")

	doc := s.Put(&document.Document{Name: "a.pdf", ParentID: invoices})
	assert.Equal(t, "/Finance/Invoices/a.pdf", doc.Path)
	assert.Equal(t, document.StatusActive, doc.Status)

	in, err := s.IsWithin(ctx, invoices, finance)
	require.NoError(t, err)
	assert.True(t, in)
	in, _ = s.IsWithin(ctx, finance, invoices)
	assert.False(t, in)
	in, _ = s.IsWithin(ctx, other, other)
	assert.True(t, in)
	_, err = s.IsWithin(ctx, other, "missing")
	assert.ErrorIs(t, err, ErrFolderNotFound)

	_, err = s.AddFolder("x", "missing")
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestFindModifiedSince(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	root, _ := s.AddFolder("Root", "")
	sub, _ := s.AddFolder("Sub", root)

	s.Put(&document.Document{ID: "old", Name: "old", ModifiedAt: base.Add(-time.Hour)})
	s.Put(&document.Document{ID: "c", Name: "c", ModifiedAt: base.Add(3 * time.Minute), ParentID: sub})
	s.Put(&document.Document{ID: "a", Name: "a", ModifiedAt: base.Add(1 * time.Minute)})
	s.Put(&document.Document{ID: "b", Name: "b", ModifiedAt: base.Add(2 * time.Minute), ParentID: root})
	s.Put(&document.Document{ID: "gone", Name: "gone", ModifiedAt: base.Add(time.Minute), Status: document.StatusDeleted})

	docs, err := s.FindModifiedSince(ctx, base, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(docs))

	docs, _ = s.FindModifiedSince(ctx, base, 2)
	assert.Equal(t, []string{"a", "b"}, ids(docs))

	docs, _ = s.FindModifiedSinceInFolder(ctx, base, root, 10)
	assert.Equal(t, []string{"b", "c"}, ids(docs))
}

func TestCollaborators(t *testing.T) {
	ctx := context.Background()
	s := New()
	dest, _ := s.AddFolder("Archive", "")
	doc := s.Put(&document.Document{Name: "r.pdf"})

	require.NoError(t, s.AddTag(ctx, "u", doc.ID, "pdf"))
	require.NoError(t, s.AddTag(ctx, "u", doc.ID, "PDF"))
	got, _ := s.Get(ctx, doc.ID)
	assert.Equal(t, []string{"pdf"}, got.Tags)

	removed, err := s.RemoveTag(ctx, "u", doc.ID, "Pdf")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, _ = s.RemoveTag(ctx, "u", doc.ID, "pdf")
	assert.False(t, removed)

	c1, _ := s.FindOrCreate(ctx, "u", "Finance")
	c2, _ := s.FindOrCreate(ctx, "u", "finance")
	assert.Equal(t, "Finance", c1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, []string{"Finance"}, s.Categories())

	newPath, err := s.Move(ctx, "u", doc.ID, dest)
	require.NoError(t, err)
	assert.Equal(t, "/Archive/r.pdf", newPath)
	got, _ = s.Get(ctx, doc.ID)
	assert.Equal(t, "/Archive/r.pdf", got.Path)

	copyID, err := s.Copy(ctx, "bob", doc.ID, dest, "r-copy.pdf")
	require.NoError(t, err)
	cp, _ := s.Get(ctx, copyID)
	assert.Equal(t, "/Archive/r-copy.pdf", cp.Path)
	assert.Equal(t, "bob", cp.CreatedBy)

	_, err = s.Move(ctx, "u", doc.ID, "nowhere")
	assert.ErrorIs(t, err, ErrFolderNotFound)
	assert.ErrorIs(t, s.Save(ctx, "u", &document.Document{ID: "ghost"}), ErrDocumentNotFound)
}

func ids(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestPutFolder(t *testing.T) {
	ctx := context.Background()
	s := New()
	const (
		finance  = "0b7e6c55-2c1d-4a8e-b5b1-8d6f1e0c9a11"
		invoices = "1c8f7d66-3d2e-4b9f-a6c2-9e7f2f1d0b22"
	)

	// a child may arrive before its parent
	require.NoError(t, s.PutFolder(document.Folder{ID: invoices, Name: "Invoices", ParentID: finance}))
	require.NoError(t, s.PutFolder(document.Folder{ID: finance, Name: "Finance"}))

	in, err := s.IsWithin(ctx, invoices, finance)
	require.NoError(t, err)
	assert.True(t, in)

	doc := s.Put(&document.Document{Name: "a.pdf", ParentID: invoices})
	assert.Equal(t, "/Finance/Invoices/a.pdf", doc.Path)

	require.NoError(t, s.PutFolder(document.Folder{ID: finance, Name: "Accounting"}))
	folders := s.Folders()
	require.Len(t, folders, 2)
	assert.Equal(t, "Accounting", folders[0].Name)
	assert.Equal(t, "Invoices", folders[1].Name)

	for _, bad := range []document.Folder{
		{ID: "inbox", Name: "Inbox"},
		{ID: finance, Name: ""},
		{ID: finance, Name: "a/b"},
		{ID: finance, Name: "Loop", ParentID: finance},
		{ID: finance, Name: "Bad parent", ParentID: "root"},
	} {
		assert.ErrorIs(t, s.PutFolder(bad), ErrInvalidFolder, bad)
	}
}
