package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studycards/internal/models"
)

var (
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
)

const cardColumns = `c.id, c.document_id, c.question, c.answer,
	c.due, c.stability, c.difficulty, c.elapsed_days, c.scheduled_days,
	c.reps, c.lapses, c.state, c.last_review, c.created_at, c.updated_at, d.original_name`

// DeckService stores generated flashcards and schedules their review with FSRS.
type DeckService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewDeckService(db *sql.DB) *DeckService {
	return &DeckService{
		db:     db,
		params: fsrs.DefaultParam(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SaveCards inserts flashcards as new cards due immediately. Cards with an
// empty question or answer are skipped.
func (s *DeckService) SaveCards(ctx context.Context, documentID sql.NullInt64, flashcards []models.Flashcard) (saved []models.Card, err error) {
	if len(flashcards) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (document_id, question, answer, due, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, fc := range flashcards {
		question := strings.TrimSpace(fc.Question)
		answer := strings.TrimSpace(fc.Answer)
		if question == "" || answer == "" {
			continue
		}
		res, execErr := stmt.ExecContext(ctx, nullInt64Ptr(documentID), question, answer, now, int(fsrs.New), now, now)
		if execErr != nil {
			err = fmt.Errorf("insert card %q: %w", question, execErr)
			return nil, err
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			err = fmt.Errorf("card id: %w", idErr)
			return nil, err
		}
		saved = append(saved, models.Card{
			ID:         id,
			DocumentID: documentID,
			Question:   question,
			Answer:     answer,
			Due:        sql.NullTime{Time: now, Valid: true},
			State:      int(fsrs.New),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cards: %w", err)
	}
	return saved, nil
}

// NextCard returns the card with the earliest due time that is already due.
func (s *DeckService) NextCard(ctx context.Context) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards c
		LEFT JOIN documents d ON c.document_id = d.id
		WHERE c.due IS NOT NULL AND c.due <= ?
		ORDER BY c.due ASC, c.id ASC
		LIMIT 1;
	`, s.now())
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, fmt.Errorf("next card: %w", err)
	}
	return card, nil
}

// ListCards returns every card generated from documentID, oldest first.
func (s *DeckService) ListCards(ctx context.Context, documentID int64) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards c
		LEFT JOIN documents d ON c.document_id = d.id
		WHERE c.document_id = ?
		ORDER BY c.id ASC;
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *DeckService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Card, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards c
		LEFT JOIN documents d ON c.document_id = d.id
		WHERE c.id = ?;
	`, cardID)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("card %d: %w", cardID, ErrNotFound)
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := s.now()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return card, log, nil
}

// Stats counts cards by FSRS state along with the number currently due.
func (s *DeckService) Stats(ctx context.Context) (models.DeckStats, error) {
	var stats models.DeckStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN due IS NOT NULL AND due <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state IN (?, ?) THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM cards;
	`, s.now(), int(fsrs.New), int(fsrs.Learning), int(fsrs.Relearning), int(fsrs.Review)).Scan(
		&stats.Total, &stats.Due, &stats.New, &stats.Learning, &stats.Review,
	)
	if err != nil {
		return models.DeckStats{}, fmt.Errorf("deck stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	card := &models.Card{}
	if err := row.Scan(
		&card.ID,
		&card.DocumentID,
		&card.Question,
		&card.Answer,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
		&card.DocumentName,
	); err != nil {
		return nil, err
	}
	return card, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}
