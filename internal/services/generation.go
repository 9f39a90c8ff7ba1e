package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"studycards/internal/models"
)

var (
	// ErrAIUnavailable is returned when no language model backend is configured.
	ErrAIUnavailable = errors.New("llm integration is not configured")
	// ErrMalformedResponse is returned when a model reply does not hold a JSON array.
	ErrMalformedResponse = errors.New("malformed model response")
)

const (
	DefaultItemCount = 5
	MaxItemCount     = 50
)

const (
	flashcardSystemPrompt = "You generate flashcards from study notes."
	quizSystemPrompt      = "You generate multiple choice quiz questions."
)

// GenerationOptions tunes outbound model calls.
type GenerationOptions struct {
	Timeout           time.Duration
	RequestsPerMinute int
}

// GenerationService turns study text into flashcards and quiz questions.
type GenerationService struct {
	backend ChatBackend
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewGenerationService wraps backend with throttling and per-call timeouts.
// A nil backend yields a service whose calls fail with ErrAIUnavailable.
func NewGenerationService(backend ChatBackend, opts GenerationOptions, logger *zap.Logger) *GenerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	return &GenerationService{
		backend: backend,
		limiter: rate.NewLimiter(limit, 1),
		timeout: opts.Timeout,
		logger:  logger.Named("generation"),
	}
}

func (s *GenerationService) Enabled() bool {
	return s.backend != nil
}

// ClampCount maps a requested item count onto the accepted range.
func ClampCount(count int) int {
	switch {
	case count <= 0:
		return DefaultItemCount
	case count > MaxItemCount:
		return MaxItemCount
	default:
		return count
	}
}

func flashcardPrompt(text string, count int) string {
	return fmt.Sprintf(`You are a helpful study assistant. Based on the following text, generate %d flashcards.
Each flashcard must be in this JSON format:
{ "question": "...", "answer": "..." }

Return only a JSON array, and nothing else.

Text:
%s`, count, text)
}

func quizPrompt(text string, count int) string {
	return fmt.Sprintf(`You are a helpful quiz generator. Based on the following text, generate %d multiple choice questions.
Each question must include:
- a "question" field
- four "options" (as a list)
- a "correct_answer" field holding the text of the correct option

Return only a JSON array.

Text:
%s`, count, text)
}

func (s *GenerationService) GenerateFlashcards(ctx context.Context, text string, count int) ([]models.Flashcard, error) {
	count = ClampCount(count)
	var raw []models.Flashcard
	if err := s.complete(ctx, "flashcards", flashcardSystemPrompt, flashcardPrompt(text, count), &raw); err != nil {
		return nil, err
	}

	cards := make([]models.Flashcard, 0, len(raw))
	for _, fc := range raw {
		fc.Question = strings.TrimSpace(fc.Question)
		fc.Answer = strings.TrimSpace(fc.Answer)
		if fc.Question == "" || fc.Answer == "" {
			continue
		}
		cards = append(cards, fc)
		if len(cards) == count {
			break
		}
	}
	if dropped := len(raw) - len(cards); dropped > 0 {
		s.logger.Debug("dropped flashcards", zap.Int("dropped", dropped))
	}
	return cards, nil
}

func (s *GenerationService) GenerateQuiz(ctx context.Context, text string, count int) ([]models.QuizQuestion, error) {
	count = ClampCount(count)
	var raw []models.QuizQuestion
	if err := s.complete(ctx, "quiz", quizSystemPrompt, quizPrompt(text, count), &raw); err != nil {
		return nil, err
	}

	questions := make([]models.QuizQuestion, 0, len(raw))
	for _, q := range raw {
		valid, ok := validateQuizQuestion(q)
		if !ok {
			s.logger.Debug("dropped quiz question", zap.String("question", q.Question))
			continue
		}
		questions = append(questions, valid)
		if len(questions) == count {
			break
		}
	}
	return questions, nil
}

// StudySet bundles flashcards and a quiz generated from the same text.
type StudySet struct {
	Flashcards []models.Flashcard    `json:"flashcards"`
	Quiz       []models.QuizQuestion `json:"quiz"`
}

// GenerateStudySet runs flashcard and quiz generation concurrently. The first
// failure cancels the other request.
func (s *GenerationService) GenerateStudySet(ctx context.Context, text string, cards, questions int) (*StudySet, error) {
	set := &StudySet{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fcs, err := s.GenerateFlashcards(gctx, text, cards)
		if err != nil {
			return fmt.Errorf("flashcards: %w", err)
		}
		set.Flashcards = fcs
		return nil
	})
	g.Go(func() error {
		quiz, err := s.GenerateQuiz(gctx, text, questions)
		if err != nil {
			return fmt.Errorf("quiz: %w", err)
		}
		set.Quiz = quiz
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *GenerationService) complete(ctx context.Context, kind, system, user string, out any) error {
	if s.backend == nil {
		return ErrAIUnavailable
	}
	if err := s.limiter.Wait(ctx); err != nil {
		// Wait fails early, without a context error, when the deadline
		// would pass before a token frees up.
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := s.backend.Complete(ctx, system, user)
	if err != nil {
		return fmt.Errorf("generate %s: %w", kind, err)
	}
	s.logger.Debug("model reply",
		zap.String("kind", kind),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("reply", content),
	)

	jsonStr := extractJSONArray(content)
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		s.logger.Warn("failed to decode model reply",
			zap.String("kind", kind),
			zap.String("reply", content),
			zap.Error(err),
		)
		return fmt.Errorf("decode %s: %w: %v", kind, ErrMalformedResponse, err)
	}
	return nil
}

// extractJSONArray removes markdown code fences if present and cuts the reply
// down to its outermost JSON array.
func extractJSONArray(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		start := 3
		// Skip the language identifier line, e.g. ```json
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)
	if startIdx := strings.Index(content, "["); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "]"); endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}
	return strings.TrimSpace(content)
}

// validateQuizQuestion requires four non-empty options and a correct answer
// naming one of them. Answers given as a letter A-D, or differing from an
// option only in case, are mapped to that option's text.
func validateQuizQuestion(q models.QuizQuestion) (models.QuizQuestion, bool) {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" || len(q.Options) != 4 {
		return q, false
	}
	options := make([]string, len(q.Options))
	for i, opt := range q.Options {
		options[i] = strings.TrimSpace(opt)
		if options[i] == "" {
			return q, false
		}
	}
	q.Options = options

	answer := strings.TrimSpace(q.CorrectAnswer)
	for _, opt := range options {
		if opt == answer {
			q.CorrectAnswer = opt
			return q, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, answer) {
			q.CorrectAnswer = opt
			return q, true
		}
	}
	letter := strings.ToUpper(strings.TrimRight(answer, ").:"))
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'D' {
		q.CorrectAnswer = options[letter[0]-'A']
		return q, true
	}
	return q, false
}
