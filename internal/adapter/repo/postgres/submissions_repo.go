package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// SubmissionRepo persists analysed essays.
type SubmissionRepo struct{ Pool PgxPool }

// NewSubmissionRepo constructs a SubmissionRepo with the given pool.
func NewSubmissionRepo(p PgxPool) *SubmissionRepo { return &SubmissionRepo{Pool: p} }

const submissionColumns = `id, owner_id, essay, question_id, score, explanation, line_by_line, marked_errors, improved_text, band9_version, word_count, provider, degraded, created_at`

// Create stores a new submission and returns its id (generates one if empty).
func (r *SubmissionRepo) Create(ctx domain.Context, s domain.Submission) (string, error) {
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.Create", "INSERT", "submissions")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	fb := s.Feedback
	q := `INSERT INTO submissions (` + submissionColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.Pool.Exec(ctx, q, id, s.OwnerID, s.Essay, s.QuestionID,
		fb.Score, fb.Explanation, fb.LineByLineAnalysis, fb.MarkedErrors, fb.ImprovedText, fb.Band9Version, fb.WordCount,
		s.Provider, s.Degraded, createdAt)
	if err != nil {
		return "", fmt.Errorf("op=submission.create: %w", err)
	}
	return id, nil
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	fb := &s.Feedback
	err := row.Scan(&s.ID, &s.OwnerID, &s.Essay, &s.QuestionID,
		&fb.Score, &fb.Explanation, &fb.LineByLineAnalysis, &fb.MarkedErrors, &fb.ImprovedText, &fb.Band9Version, &fb.WordCount,
		&s.Provider, &s.Degraded, &s.CreatedAt)
	return s, err
}

// Get loads one of the owner's submissions. Another owner's id is reported
// as not found.
func (r *SubmissionRepo) Get(ctx domain.Context, ownerID, id string) (domain.Submission, error) {
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.Get", "SELECT", "submissions")
	defer span.End()
	q := `SELECT ` + submissionColumns + ` FROM submissions WHERE id=$1 AND owner_id=$2`
	s, err := scanSubmission(r.Pool.QueryRow(ctx, q, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, fmt.Errorf("op=submission.get: %w", domain.ErrNotFound)
		}
		return domain.Submission{}, fmt.Errorf("op=submission.get: %w", err)
	}
	return s, nil
}

// List returns the owner's submissions, newest first.
func (r *SubmissionRepo) List(ctx domain.Context, ownerID string, limit, offset int) ([]domain.Submission, error) {
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.List", "SELECT", "submissions")
	defer span.End()
	q := `SELECT ` + submissionColumns + ` FROM submissions WHERE owner_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := r.Pool.Query(ctx, q, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=submission.list: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Submission, 0, limit)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("op=submission.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=submission.list: %w", err)
	}
	return out, nil
}

// Delete removes one of the owner's submissions.
func (r *SubmissionRepo) Delete(ctx domain.Context, ownerID, id string) error {
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.Delete", "DELETE", "submissions")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM submissions WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("op=submission.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=submission.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// DeleteMany removes the listed submissions, or all of the owner's when ids
// is empty. Ids of other owners are skipped silently.
func (r *SubmissionRepo) DeleteMany(ctx domain.Context, ownerID string, ids []string) ([]string, error) {
	ctx, span := startSpan(ctx, "repo.submissions", "submissions.DeleteMany", "DELETE", "submissions")
	defer span.End()
	var (
		rows pgx.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.Pool.Query(ctx, `DELETE FROM submissions WHERE owner_id=$1 RETURNING id`, ownerID)
	} else {
		rows, err = r.Pool.Query(ctx, `DELETE FROM submissions WHERE owner_id=$1 AND id = ANY($2) RETURNING id`, ownerID, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("op=submission.delete_many: %w", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("op=submission.delete_many: %w", err)
	}
	return deleted, nil
}
