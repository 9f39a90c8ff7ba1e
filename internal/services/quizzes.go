package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studycards/internal/models"
)

// QuizService stores generated quizzes and grades submitted answers.
type QuizService struct {
	db *sql.DB
}

func NewQuizService(db *sql.DB) *QuizService {
	return &QuizService{db: db}
}

func (s *QuizService) SaveQuiz(ctx context.Context, documentID sql.NullInt64, questions []models.QuizQuestion) (quiz *models.Quiz, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO quizzes (document_id, created_at) VALUES (?, ?);`, nullInt64Ptr(documentID), now)
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("quiz id: %w", err)
	}

	for i, q := range questions {
		raw, marshalErr := json.Marshal(q.Options)
		if marshalErr != nil {
			err = fmt.Errorf("encode options: %w", marshalErr)
			return nil, err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO quiz_questions (quiz_id, position, question, options, correct_answer)
			VALUES (?, ?, ?, ?, ?);
		`, id, i, q.Question, string(raw), q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("insert quiz question %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit quiz: %w", err)
	}
	return &models.Quiz{
		ID:         id,
		DocumentID: documentID,
		Questions:  questions,
		CreatedAt:  now,
	}, nil
}

func (s *QuizService) GetQuiz(ctx context.Context, id int64) (*models.Quiz, error) {
	quiz := &models.Quiz{}
	err := s.db.QueryRowContext(ctx, `SELECT id, document_id, created_at FROM quizzes WHERE id = ?;`, id).
		Scan(&quiz.ID, &quiz.DocumentID, &quiz.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quiz %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load quiz %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question, options, correct_answer
		FROM quiz_questions
		WHERE quiz_id = ?
		ORDER BY position ASC;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load quiz questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q   models.QuizQuestion
			raw string
		)
		if err := rows.Scan(&q.Question, &raw, &q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("scan quiz question: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return quiz, nil
}

// Grade compares answers position by position with the stored correct
// answers. Missing answers count as wrong.
func (s *QuizService) Grade(ctx context.Context, id int64, answers []string) (*models.QuizGrade, error) {
	quiz, err := s.GetQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	return GradeQuiz(quiz, answers), nil
}

func GradeQuiz(quiz *models.Quiz, answers []string) *models.QuizGrade {
	grade := &models.QuizGrade{
		QuizID:  quiz.ID,
		Total:   len(quiz.Questions),
		Results: make([]models.AnswerResult, 0, len(quiz.Questions)),
	}
	for i, q := range quiz.Questions {
		var given string
		if i < len(answers) {
			given = strings.TrimSpace(answers[i])
		}
		correct := given != "" && given == strings.TrimSpace(q.CorrectAnswer)
		if correct {
			grade.Score++
		}
		grade.Results = append(grade.Results, models.AnswerResult{
			Question:      q.Question,
			Given:         given,
			CorrectAnswer: q.CorrectAnswer,
			Correct:       correct,
		})
	}
	return grade
}
