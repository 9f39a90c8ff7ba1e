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

	"go.uber.org/zap"

	"studycards/internal/extract"
	"studycards/internal/models"
	"studycards/internal/textnorm"
)

// ErrNoText is returned when an upload yields no usable text.
var ErrNoText = errors.New("could not extract text")

// ProgressCallback is called during document processing to report progress
type ProgressCallback func(step, message string, current, total int)

// StudyService coordinates upload storage, text extraction, normalization,
// generation and persistence.
type StudyService struct {
	documents  *DocumentService
	extractor  *extract.Extractor
	generation *GenerationService
	deck       *DeckService
	quizzes    *QuizService
	maxWords   int
	logger     *zap.Logger
}

func NewStudyService(
	documents *DocumentService,
	extractor *extract.Extractor,
	generation *GenerationService,
	deck *DeckService,
	quizzes *QuizService,
	maxWords int,
	logger *zap.Logger,
) *StudyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxWords <= 0 {
		maxWords = textnorm.DefaultMaxWords
	}
	return &StudyService{
		documents:  documents,
		extractor:  extractor,
		generation: generation,
		deck:       deck,
		quizzes:    quizzes,
		maxWords:   maxWords,
		logger:     logger.Named("study"),
	}
}

// Ingest stores an uploaded file, extracts and normalizes its text and
// records the document. Unsupported types are rejected before anything is
// written to disk.
func (s *StudyService) Ingest(ctx context.Context, name string, src io.Reader, progress ProgressCallback) (*models.Document, error) {
	if err := extract.Check(name); err != nil {
		return nil, err
	}

	report(progress, "store", "Saving upload", 0, 100)
	storedPath, err := s.documents.SaveFile(name, src)
	if err != nil {
		return nil, err
	}

	doc, err := s.ingestStored(ctx, name, storedPath, progress)
	if err != nil {
		s.documents.RemoveFile(storedPath)
		return nil, err
	}
	return doc, nil
}

func (s *StudyService) ingestStored(ctx context.Context, name, storedPath string, progress ProgressCallback) (*models.Document, error) {
	report(progress, "extract", "Extracting text", 10, 100)
	f, err := os.Open(storedPath)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer f.Close()

	result, err := s.extractor.Extract(name, f)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("file", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoText, err)
	}

	report(progress, "normalize", "Normalizing text", 30, 100)
	text := textnorm.Normalize(result.Text, s.maxWords)
	if text == "" {
		return nil, ErrNoText
	}

	doc := &models.Document{
		OriginalName: name,
		StoredPath:   storedPath,
		FileType:     strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		PageCount:    result.Pages,
		WordCount:    textnorm.WordCount(text),
		Text:         text,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document ingested",
		zap.Int64("document_id", doc.ID),
		zap.String("file", name),
		zap.Int("pages", doc.PageCount),
		zap.Int("words", doc.WordCount),
	)
	return doc, nil
}

// FlashcardsForDocument generates flashcards from a stored document and adds
// them to the deck.
func (s *StudyService) FlashcardsForDocument(ctx context.Context, doc *models.Document, count int, progress ProgressCallback) ([]models.Card, error) {
	report(progress, "generate", "Generating flashcards", 40, 100)
	flashcards, err := s.generation.GenerateFlashcards(ctx, doc.Text, count)
	if err != nil {
		return nil, err
	}

	report(progress, "save", fmt.Sprintf("Saving %d flashcards", len(flashcards)), 90, 100)
	cards, err := s.deck.SaveCards(ctx, sql.NullInt64{Int64: doc.ID, Valid: true}, flashcards)
	if err != nil {
		return nil, err
	}
	report(progress, "complete", "Processing complete", 100, 100)
	return cards, nil
}

// QuizForDocument generates a quiz from a stored document and saves it.
func (s *StudyService) QuizForDocument(ctx context.Context, doc *models.Document, count int) (*models.Quiz, error) {
	questions, err := s.generation.GenerateQuiz(ctx, doc.Text, count)
	if err != nil {
		return nil, err
	}
	return s.quizzes.SaveQuiz(ctx, sql.NullInt64{Int64: doc.ID, Valid: true}, questions)
}

// UploadResult summarizes one file processed by ProcessUpload.
type UploadResult struct {
	Document *models.Document
	Cards    []models.Card
}

// ProcessUpload ingests a file and turns it into deck cards in one pass.
func (s *StudyService) ProcessUpload(ctx context.Context, name string, src io.Reader, count int, progress ProgressCallback) (*UploadResult, error) {
	doc, err := s.Ingest(ctx, name, src, progress)
	if err != nil {
		return nil, err
	}
	result := &UploadResult{Document: doc}
	cards, err := s.FlashcardsForDocument(ctx, doc, count, progress)
	if err != nil {
		return result, err
	}
	result.Cards = cards
	return result, nil
}

func report(progress ProgressCallback, step, message string, current, total int) {
	if progress != nil {
		progress(step, message, current, total)
	}
}
