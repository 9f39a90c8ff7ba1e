package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"studycards/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

// SaveFile copies src into the upload directory under a random name that
// keeps the original extension, and returns the stored path.
func (s *DocumentService) SaveFile(original string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(original))
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	_, err = io.Copy(out, src)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(storedPath)
		return "", fmt.Errorf("write file: %w", err)
	}
	return storedPath, nil
}

// RemoveFile deletes a stored upload that never made it into the database.
func (s *DocumentService) RemoveFile(storedPath string) {
	_ = os.Remove(storedPath)
}

// Create inserts doc and fills in its ID and upload time.
func (s *DocumentService) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (original_name, stored_path, file_type, page_count, word_count, normalized_text, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, doc.OriginalName, doc.StoredPath, doc.FileType, doc.PageCount, doc.WordCount, doc.Text, now)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	doc.ID = id
	doc.UploadedAt = now
	return nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, file_type, page_count, word_count, normalized_text, uploaded_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.FileType,
		&doc.PageCount,
		&doc.WordCount,
		&doc.Text,
		&doc.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// List returns the most recent documents without their text.
func (s *DocumentService) List(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_path, file_type, page_count, word_count, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID,
			&doc.OriginalName,
			&doc.StoredPath,
			&doc.FileType,
			&doc.PageCount,
			&doc.WordCount,
			&doc.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
