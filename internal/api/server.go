package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"

	"studycards/internal/extract"
	"studycards/internal/models"
	"studycards/internal/services"
)

const (
	maxMultipartMemory = 8 << 20 // 8 MB
	maxJSONBody        = 4 << 20

	legacyFormatMessage    = "Files in .doc or .ppt format are not supported. Please upload as .docx or .pptx instead."
	unsupportedTypeMessage = "Unsupported file type. Please upload a .pdf, .txt, .docx or .pptx file."
)

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Server struct {
	mux            *http.ServeMux
	study          *services.StudyService
	documents      *services.DocumentService
	deck           *services.DeckService
	quizzes        *services.QuizService
	generation     *services.GenerationService
	jobs           *JobManager
	maxUploadBytes int64
	logger         *zap.Logger

	// background jobs outlive the request that started them
	jobCtx    context.Context
	cancelJob context.CancelFunc
	jobWG     sync.WaitGroup
}

func NewServer(
	study *services.StudyService,
	documents *services.DocumentService,
	deck *services.DeckService,
	quizzes *services.QuizService,
	generation *services.GenerationService,
	opts Options,
) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mux:            http.NewServeMux(),
		study:          study,
		documents:      documents,
		deck:           deck,
		quizzes:        quizzes,
		generation:     generation,
		jobs:           NewJobManager(),
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger.Named("api"),
		jobCtx:         jobCtx,
		cancelJob:      cancel,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Close cancels running upload jobs and waits for them to stop.
func (s *Server) Close() {
	s.cancelJob()
	s.jobWG.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/generate_flashcards", s.handleGenerateFlashcards)
	s.mux.HandleFunc("/api/generate_quiz", s.handleGenerateQuiz)
	s.mux.HandleFunc("/api/study_set", s.handleStudySet)
	s.mux.HandleFunc("/api/documents", s.handleListDocuments)
	s.mux.HandleFunc("/api/documents/", s.handleDocumentActions)
	s.mux.HandleFunc("/api/documents/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/documents/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/api/cards/next", s.handleGetNextCard)
	s.mux.HandleFunc("/api/cards/stats", s.handleGetCardsStats)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
	s.mux.HandleFunc("/api/quizzes/", s.handleQuizActions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"llm":    s.generation.Enabled(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if !s.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	doc, err := s.study.Ingest(r.Context(), header.Filename, file, nil)
	if err != nil {
		s.writeIngestError(w, header.Filename, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": doc.ID,
		"preview":     doc.Text,
		"word_count":  doc.WordCount,
	})
}

// parseUpload enforces the upload size limit and parses the multipart form.
// It writes the error response itself and reports whether to continue.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return false
	}
	return true
}

func (s *Server) writeIngestError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, extract.ErrLegacyFormat):
		writeError(w, http.StatusBadRequest, legacyFormatMessage)
	case errors.Is(err, extract.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, unsupportedTypeMessage)
	case errors.Is(err, services.ErrNoText):
		writeError(w, http.StatusBadRequest, "Could not extract text")
	default:
		s.logger.Error("ingest upload", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process upload")
	}
}

// ingestMessage maps a per-file job failure to the message stored in the job
// snapshot. Unrecognized errors are logged by the caller, not exposed.
func ingestMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrLegacyFormat):
		return legacyFormatMessage
	case errors.Is(err, extract.ErrUnsupportedType):
		return unsupportedTypeMessage
	case errors.Is(err, services.ErrNoText):
		return "Could not extract text"
	case errors.Is(err, services.ErrAIUnavailable):
		return "generation is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	}
	return "failed to process upload"
}

type generateRequest struct {
	Text       string `json:"text"`
	Count      int    `json:"count"`
	DocumentID *int64 `json:"document_id,omitempty"`
}

// resolveText returns the request text, falling back to the stored text of
// the referenced document when the request carries none.
func (s *Server) resolveText(w http.ResponseWriter, r *http.Request, req generateRequest) (string, sql.NullInt64, bool) {
	var docID sql.NullInt64
	text := strings.TrimSpace(req.Text)
	if req.DocumentID != nil {
		doc, err := s.documents.GetByID(r.Context(), *req.DocumentID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				writeError(w, http.StatusNotFound, "document not found")
				return "", docID, false
			}
			s.writeInternal(w, "load document", err)
			return "", docID, false
		}
		docID = sql.NullInt64{Int64: doc.ID, Valid: true}
		if text == "" {
			text = doc.Text
		}
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return "", docID, false
	}
	return text, docID, true
}

func (s *Server) handleGenerateFlashcards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, docID, ok := s.resolveText(w, r, req)
	if !ok {
		return
	}

	flashcards, err := s.generation.GenerateFlashcards(r.Context(), text, req.Count)
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}

	resp := map[string]any{"flashcards": flashcards}
	if docID.Valid {
		cards, err := s.deck.SaveCards(r.Context(), docID, flashcards)
		if err != nil {
			s.writeInternal(w, "save flashcards", err)
			return
		}
		resp["saved"] = len(cards)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, docID, ok := s.resolveText(w, r, req)
	if !ok {
		return
	}

	questions, err := s.generation.GenerateQuiz(r.Context(), text, req.Count)
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}

	quiz, err := s.quizzes.SaveQuiz(r.Context(), docID, questions)
	if err != nil {
		s.writeInternal(w, "save quiz", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quiz":    questions,
		"quiz_id": quiz.ID,
	})
}

func (s *Server) handleStudySet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Text      string `json:"text"`
		Cards     int    `json:"cards"`
		Questions int    `json:"questions"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}

	set, err := s.generation.GenerateStudySet(r.Context(), text, req.Cards, req.Questions)
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	docs, err := s.documents.List(r.Context(), limit)
	if err != nil {
		s.writeInternal(w, "list documents", err)
		return
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentJSON(doc, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleDocumentActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	parts := strings.Split(path, "/")
	docID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	switch {
	case len(parts) == 1:
		doc, err := s.documents.GetByID(r.Context(), docID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			s.writeInternal(w, "load document", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": documentJSON(*doc, true)})
	case len(parts) == 2 && parts[1] == "cards":
		cards, err := s.deck.ListCards(r.Context(), docID)
		if err != nil {
			s.writeInternal(w, "list cards", err)
			return
		}
		out := make([]map[string]any, 0, len(cards))
		for _, card := range cards {
			out = append(out, cardJSON(card))
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": out})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if !s.parseUpload(w, r) {
		return
	}
	form := r.MultipartForm

	files := append(form.File["files"], form.File["file"]...)
	if len(files) == 0 {
		_ = form.RemoveAll()
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	count := 0
	if raw := r.FormValue("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = form.RemoveAll()
			writeError(w, http.StatusBadRequest, "count must be a number")
			return
		}
		count = n
	}
	count = services.ClampCount(count)

	fileNames := make([]string, len(files))
	for i, file := range files {
		fileNames[i] = file.Filename
	}
	snapshot := s.jobs.CreateJob(fileNames, count)

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		s.runUploadJob(s.jobCtx, snapshot.ID, count, files, form)
	}()

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/jobs/"), "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runUploadJob(ctx context.Context, jobID string, count int, files []*multipart.FileHeader, form *multipart.Form) {
	defer func() {
		_ = form.RemoveAll()
	}()

	logger := s.logger.With(zap.String("job_id", jobID))
	s.jobs.MarkProcessing(jobID)
	for idx, file := range files {
		progress := func(step, message string, current, total int) {
			s.jobs.UpdateFileProgress(jobID, idx, step, message, current, total)
		}
		result, err := s.processFile(ctx, file, count, progress)
		if err != nil {
			logger.Warn("upload job file failed", zap.String("file", file.Filename), zap.Error(err))
			s.jobs.MarkFileError(jobID, idx, ingestMessage(err), result)
			continue
		}
		s.jobs.MarkFileComplete(jobID, idx, result)
	}
	s.jobs.MarkCompleted(jobID)
	logger.Info("upload job complete", zap.Int("files", len(files)))
}

func (s *Server) processFile(ctx context.Context, file *multipart.FileHeader, count int, progress services.ProgressCallback) (FileResult, error) {
	result := FileResult{Name: file.Filename}

	src, err := file.Open()
	if err != nil {
		return result, err
	}
	defer src.Close()

	upload, err := s.study.ProcessUpload(ctx, file.Filename, src, count, progress)
	if upload != nil && upload.Document != nil {
		result.DocumentID = upload.Document.ID
		result.Pages = upload.Document.PageCount
		result.WordCount = upload.Document.WordCount
		result.Cards = len(upload.Cards)
	}
	return result, err
}

func (s *Server) handleGetNextCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	card, err := s.deck.NextCard(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		s.writeInternal(w, "next card", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardJSON(*card)})
}

func (s *Server) handleGetCardsStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	stats, err := s.deck.Stats(r.Context())
	if err != nil {
		s.writeInternal(w, "card stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cards/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}

	cardID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var payload reviewRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	rating, err := parseRating(payload.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, logEntry, err := s.deck.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "card not found")
			return
		}
		s.writeInternal(w, "review card", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": cardJSON(*card),
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

func (s *Server) handleQuizActions(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/quizzes/"), "/")
	parts := strings.Split(path, "/")
	quizID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		quiz, err := s.quizzes.GetQuiz(r.Context(), quizID)
		if err != nil {
			s.writeQuizError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"quiz_id":     quiz.ID,
			"document_id": nullInt64(quiz.DocumentID),
			"quiz":        quiz.Questions,
			"created_at":  quiz.CreatedAt.Format(timeLayout),
		})
	case len(parts) == 2 && parts[1] == "grade":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var payload struct {
			Answers []string `json:"answers"`
		}
		if !decodeJSON(w, r, &payload) {
			return
		}
		grade, err := s.quizzes.Grade(r.Context(), quizID, payload.Answers)
		if err != nil {
			s.writeQuizError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grade)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeQuizError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	s.writeInternal(w, "load quiz", err)
}

func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAIUnavailable):
		writeError(w, http.StatusServiceUnavailable, "generation is not configured")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("generation timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "generation timed out")
	default:
		s.logger.Error("generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "generation failed")
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

const timeLayout = time.RFC3339

func parseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, errors.New("rating must be one of again, hard, good, easy")
	}
}

func documentJSON(doc models.Document, withText bool) map[string]any {
	out := map[string]any{
		"id":          doc.ID,
		"name":        doc.OriginalName,
		"file_type":   doc.FileType,
		"pages":       doc.PageCount,
		"word_count":  doc.WordCount,
		"uploaded_at": doc.UploadedAt.Format(timeLayout),
	}
	if withText {
		out["text"] = doc.Text
	}
	return out
}

func cardJSON(card models.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"question":    card.Question,
		"answer":      card.Answer,
		"due":         nullTimeToString(card.Due),
		"document_id": nullInt64(card.DocumentID),
		"source":      nullString(card.DocumentName),
		"state":       card.State,
		"reps":        card.Reps,
		"stability":   card.Stability,
	}
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if v.Valid {
		n := v.Int64
		return &n
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
