package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studycards/internal/db"
	"studycards/internal/extract"
	"studycards/internal/services"
)

const (
	flashcardReply = `[{"question":"What is a cell?","answer":"The unit of life"},{"question":"What is DNA?","answer":"Genetic code"}]`
	quizReply      = "```json\n" + `[{"question":"Unit of life?","options":["Atom","Cell","Organ","Tissue"],"correct_answer":"B"}]` + "\n```"
)

type stubBackend struct{}

func (stubBackend) Complete(_ context.Context, system, _ string) (string, error) {
	if strings.Contains(system, "quiz") {
		return quizReply, nil
	}
	return flashcardReply, nil
}

func newTestServer(t *testing.T, backend services.ChatBackend) *Server {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := zap.NewNop()
	documents := services.NewDocumentService(conn, filepath.Join(t.TempDir(), "uploads"))
	deck := services.NewDeckService(conn)
	quizzes := services.NewQuizService(conn)
	generation := services.NewGenerationService(backend, services.GenerationOptions{}, logger)
	study := services.NewStudyService(documents, extract.New(), generation, deck, quizzes, 0, logger)

	srv := NewServer(study, documents, deck, quizzes, generation, Options{MaxUploadBytes: 1 << 20, Logger: logger})
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, field, name, content string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if name != "" {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func do(t *testing.T, srv *Server, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func postJSON(t *testing.T, srv *Server, path string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return do(t, srv, http.MethodPost, path, bytes.NewBuffer(raw), "application/json")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, out := do(t, srv, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, false, out["llm"])

	rec, _ = do(t, srv, http.MethodPost, "/api/health", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestUploadReturnsPreview(t *testing.T) {
	srv := newTestServer(t, nil)
	body, ct := multipartBody(t, "file", "notes.txt", "Page 1 header\nIntroduction to cells\nPage 1 header\n", nil)

	rec, out := do(t, srv, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Introduction to cells", out["preview"])
	assert.EqualValues(t, 3, out["word_count"])
	assert.NotZero(t, out["document_id"])
}

func TestUploadErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		name    string
		file    string
		content string
		status  int
		message string
	}{
		{"no file", "", "", http.StatusBadRequest, "No file uploaded"},
		{"legacy doc", "old.doc", "binary", http.StatusBadRequest, "Files in .doc or .ppt format are not supported. Please upload as .docx or .pptx instead."},
		{"legacy ppt", "OLD.PPT", "binary", http.StatusBadRequest, "Files in .doc or .ppt format are not supported. Please upload as .docx or .pptx instead."},
		{"empty text", "blank.txt", "  \n ", http.StatusBadRequest, "Could not extract text"},
		{"too large", "big.txt", strings.Repeat("word ", 300_000), http.StatusRequestEntityTooLarge, "File is too large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, "file", tc.file, tc.content, map[string]string{"note": "x"})
			rec, out := do(t, srv, http.MethodPost, "/api/upload", body, ct)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, out["error"])
		})
	}
}

func TestGenerateRequiresText(t *testing.T) {
	srv := newTestServer(t, stubBackend{})
	for _, path := range []string{"/api/generate_flashcards", "/api/generate_quiz", "/api/study_set"} {
		rec, out := postJSON(t, srv, path, map[string]any{"text": "   ", "count": 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "No text provided", out["error"], path)
	}
}

func TestGenerateWithoutBackend(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, out := postJSON(t, srv, "/api/generate_flashcards", map[string]any{"text": "cells"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "generation is not configured", out["error"])
}

type failingBackend struct{ err error }

func (b failingBackend) Complete(context.Context, string, string) (string, error) {
	return "", b.err
}

func TestGenerateErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "generation timed out"},
		{"wrapped timeout", fmt.Errorf("post: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "generation timed out"},
		{"upstream error", errors.New("dial tcp 10.0.0.1:443: connection refused"), http.StatusBadGateway, "generation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, failingBackend{err: tt.err})
			for _, path := range []string{"/api/generate_flashcards", "/api/generate_quiz"} {
				rec, out := postJSON(t, srv, path, map[string]any{"text": "cells"})
				assert.Equal(t, tt.status, rec.Code, path)
				assert.Equal(t, tt.message, out["error"], path)
				assert.NotContains(t, rec.Body.String(), "10.0.0.1")
			}
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	conn, err := db.Open(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	logger := zap.NewNop()
	documents := services.NewDocumentService(conn, filepath.Join(t.TempDir(), "uploads"))
	deck := services.NewDeckService(conn)
	quizzes := services.NewQuizService(conn)
	generation := services.NewGenerationService(nil, services.GenerationOptions{}, logger)
	study := services.NewStudyService(documents, extract.New(), generation, deck, quizzes, 0, logger)
	srv := NewServer(study, documents, deck, quizzes, generation, Options{Logger: logger})
	t.Cleanup(srv.Close)
	require.NoError(t, conn.Close())

	rec, out := do(t, srv, http.MethodGet, "/api/documents", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", out["error"])
}

func TestIngestMessageHidesDetails(t *testing.T) {
	assert.Equal(t, legacyFormatMessage, ingestMessage(fmt.Errorf("check: %w", extract.ErrLegacyFormat)))
	assert.Equal(t, "generation timed out", ingestMessage(fmt.Errorf("cards: %w", context.DeadlineExceeded)))
	assert.Equal(t, "failed to process upload", ingestMessage(errors.New("sqlite: disk I/O error")))
}

func TestGenerateFlashcardsForDocumentThenReview(t *testing.T) {
	srv := newTestServer(t, stubBackend{})

	body, ct := multipartBody(t, "file", "cells.txt", "Cells are the unit of life.", nil)
	rec, out := do(t, srv, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	docID := int64(out["document_id"].(float64))

	rec, out = postJSON(t, srv, "/api/generate_flashcards", map[string]any{"count": 2, "document_id": docID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, out["flashcards"], 2)
	assert.EqualValues(t, 2, out["saved"])

	rec, out = do(t, srv, http.MethodGet, fmt.Sprintf("/api/documents/%d/cards", docID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["cards"], 2)

	rec, out = do(t, srv, http.MethodGet, "/api/cards/next", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	card := out["card"].(map[string]any)
	assert.Equal(t, "cells.txt", card["source"])

	path := fmt.Sprintf("/api/cards/%d/review", int64(card["id"].(float64)))
	rec, out = postJSON(t, srv, path, map[string]string{"rating": "easy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, out["log"])

	rec, out = postJSON(t, srv, path, map[string]string{"rating": "perfect"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, srv, http.MethodGet, "/api/cards/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := out["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["total"])
	assert.EqualValues(t, 1, stats["new"])
}

func TestGenerateFlashcardsUnknownDocument(t *testing.T) {
	srv := newTestServer(t, stubBackend{})
	rec, out := postJSON(t, srv, "/api/generate_flashcards", map[string]any{"document_id": 404})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "document not found", out["error"])
}

func TestGenerateQuizAndGrade(t *testing.T) {
	srv := newTestServer(t, stubBackend{})

	rec, out := postJSON(t, srv, "/api/generate_quiz", map[string]any{"text": "Cells are the unit of life.", "count": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quiz := out["quiz"].([]any)
	require.Len(t, quiz, 1)
	assert.Equal(t, "Cell", quiz[0].(map[string]any)["correct_answer"])
	quizID := int64(out["quiz_id"].(float64))

	rec, out = do(t, srv, http.MethodGet, fmt.Sprintf("/api/quizzes/%d", quizID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, out["document_id"])

	rec, out = postJSON(t, srv, fmt.Sprintf("/api/quizzes/%d/grade", quizID), map[string]any{"answers": []string{"Cell"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["score"])
	assert.EqualValues(t, 1, out["total"])

	rec, _ = postJSON(t, srv, "/api/quizzes/999/grade", map[string]any{"answers": []string{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStudySet(t *testing.T) {
	srv := newTestServer(t, stubBackend{})
	rec, out := postJSON(t, srv, "/api/study_set", map[string]any{"text": "cells", "cards": 2, "questions": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, out["flashcards"], 2)
	assert.Len(t, out["quiz"], 1)
}

func TestDocuments(t *testing.T) {
	srv := newTestServer(t, nil)
	body, ct := multipartBody(t, "file", "cells.txt", "Summary cells divide", nil)
	rec, out := do(t, srv, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	docID := int64(out["document_id"].(float64))

	rec, out = do(t, srv, http.MethodGet, "/api/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["documents"], 1)

	rec, out = do(t, srv, http.MethodGet, fmt.Sprintf("/api/documents/%d", docID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := out["document"].(map[string]any)
	assert.Equal(t, "Summary cells divide", doc["text"])

	rec, _ = do(t, srv, http.MethodGet, "/api/documents/77", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, srv, http.MethodGet, "/api/documents/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadJob(t *testing.T) {
	srv := newTestServer(t, stubBackend{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, content := range map[string]string{"cells.txt": "Cells are the unit of life.", "old.ppt": "binary"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("count", "2"))
	require.NoError(t, mw.Close())

	rec, out := do(t, srv, http.MethodPost, "/api/documents/jobs", body, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := out["job_id"].(string)
	assert.EqualValues(t, 2, out["count"])

	require.Eventually(t, func() bool {
		job, ok := srv.jobs.GetJob(jobID)
		return ok && job.Status == JobStatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	rec, out = do(t, srv, http.MethodGet, "/api/documents/jobs/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := out["files"].([]any)
	require.Len(t, files, 2)

	byName := map[string]map[string]any{}
	for _, f := range files {
		file := f.(map[string]any)
		byName[file["name"].(string)] = file
	}
	assert.Equal(t, FileStatusComplete, byName["cells.txt"]["status"])
	assert.EqualValues(t, 2, byName["cells.txt"]["result"].(map[string]any)["cards"])
	assert.Equal(t, FileStatusError, byName["old.ppt"]["status"])
	assert.Equal(t, legacyFormatMessage, byName["old.ppt"]["message"])

	rec, _ = do(t, srv, http.MethodGet, "/api/documents/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
