package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studycards/internal/models"
)

func TestSaveFileKeepsLowercaseExtension(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	svc := NewDocumentService(newTestDB(t), dir)

	path, err := svc.SaveFile("Lecture Notes.PDF", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, ".pdf", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	svc.RemoveFile(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestSaveFileRemovesPartialUpload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	svc := NewDocumentService(newTestDB(t), dir)

	broken := errors.New("connection reset")
	_, err := svc.SaveFile("notes.txt", io.MultiReader(strings.NewReader("partial"), failingReader{err: broken}))
	require.ErrorIs(t, err, broken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateGetAndList(t *testing.T) {
	ctx := context.Background()
	svc := NewDocumentService(newTestDB(t), t.TempDir())

	first := &models.Document{OriginalName: "a.txt", StoredPath: "/tmp/a.txt", FileType: "txt", WordCount: 2, Text: "hello world"}
	second := &models.Document{OriginalName: "b.txt", StoredPath: "/tmp/b.txt", FileType: "txt", WordCount: 1, Text: "bye"}
	require.NoError(t, svc.Create(ctx, first))
	require.NoError(t, svc.Create(ctx, second))
	assert.NotZero(t, first.ID)
	assert.False(t, first.UploadedAt.IsZero())

	got, err := svc.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, 2, got.WordCount)

	docs, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, second.ID, docs[0].ID)
	assert.Empty(t, docs[0].Text)
}

func TestGetByIDMissing(t *testing.T) {
	svc := NewDocumentService(newTestDB(t), t.TempDir())
	_, err := svc.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
