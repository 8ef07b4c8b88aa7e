package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// QuestionRepo reads sample questions and upserts the seed set.
type QuestionRepo struct{ Pool PgxPool }

// NewQuestionRepo constructs a QuestionRepo with the given pool.
func NewQuestionRepo(p PgxPool) *QuestionRepo { return &QuestionRepo{Pool: p} }

// List returns questions of category, or all when category is empty.
func (r *QuestionRepo) List(ctx domain.Context, category string) ([]domain.SampleQuestion, error) {
	ctx, span := startSpan(ctx, "repo.questions", "questions.List", "SELECT", "sample_questions")
	defer span.End()
	q := `SELECT id, category, title, prompt, minutes, min_words FROM sample_questions WHERE ($1 = '' OR category = $1) ORDER BY category, id`
	rows, err := r.Pool.Query(ctx, q, category)
	if err != nil {
		return nil, fmt.Errorf("op=question.list: %w", err)
	}
	defer rows.Close()
	var out []domain.SampleQuestion
	for rows.Next() {
		var sq domain.SampleQuestion
		if err := rows.Scan(&sq.ID, &sq.Category, &sq.Title, &sq.Prompt, &sq.Minutes, &sq.MinWords); err != nil {
			return nil, fmt.Errorf("op=question.list: %w", err)
		}
		out = append(out, sq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=question.list: %w", err)
	}
	return out, nil
}

// Get loads one question by id.
func (r *QuestionRepo) Get(ctx domain.Context, id string) (domain.SampleQuestion, error) {
	ctx, span := startSpan(ctx, "repo.questions", "questions.Get", "SELECT", "sample_questions")
	defer span.End()
	var sq domain.SampleQuestion
	err := r.Pool.QueryRow(ctx, `SELECT id, category, title, prompt, minutes, min_words FROM sample_questions WHERE id=$1`, id).
		Scan(&sq.ID, &sq.Category, &sq.Title, &sq.Prompt, &sq.Minutes, &sq.MinWords)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SampleQuestion{}, fmt.Errorf("op=question.get: %w", domain.ErrNotFound)
		}
		return domain.SampleQuestion{}, fmt.Errorf("op=question.get: %w", err)
	}
	return sq, nil
}

// Upsert inserts or updates qs in one transaction and returns how many were written.
func (r *QuestionRepo) Upsert(ctx domain.Context, qs []domain.SampleQuestion) (int, error) {
	ctx, span := startSpan(ctx, "repo.questions", "questions.Upsert", "UPSERT", "sample_questions")
	defer span.End()
	if len(qs) == 0 {
		return 0, nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("op=question.upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO sample_questions (id, category, title, prompt, minutes, min_words, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
		  category = EXCLUDED.category,
		  title = EXCLUDED.title,
		  prompt = EXCLUDED.prompt,
		  minutes = EXCLUDED.minutes,
		  min_words = EXCLUDED.min_words,
		  updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	for _, sq := range qs {
		if _, err := tx.Exec(ctx, q, sq.ID, sq.Category, sq.Title, sq.Prompt, sq.Minutes, sq.MinWords, now); err != nil {
			return 0, fmt.Errorf("op=question.upsert: %s: %w", sq.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=question.upsert: commit: %w", err)
	}
	return len(qs), nil
}
