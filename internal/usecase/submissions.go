package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/events"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/markup"
)

// Paging bounds for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SubmissionService reads and deletes an owner's submission history.
type SubmissionService struct {
	Submissions domain.SubmissionRepository
	Bus         *events.Bus
	Now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(r domain.SubmissionRepository, bus *events.Bus) SubmissionService {
	return SubmissionService{Submissions: r, Bus: bus}
}

// List returns the owner's submissions, newest first. limit is clamped to
// [1, MaxPageSize] and a non-positive value selects DefaultPageSize.
func (s SubmissionService) List(ctx domain.Context, ownerID string, limit, offset int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		return nil, fmt.Errorf("op=submissions.List: %w: offset must not be negative", domain.ErrInvalidArgument)
	}
	out, err := s.Submissions.List(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=submissions.List: %w", err)
	}
	return out, nil
}

// Get returns one of the owner's submissions.
func (s SubmissionService) Get(ctx domain.Context, ownerID, id string) (domain.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Submission{}, fmt.Errorf("op=submissions.Get: %w: id required", domain.ErrInvalidArgument)
	}
	sub, err := s.Submissions.Get(ctx, ownerID, id)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("op=submissions.Get: %w", err)
	}
	return sub, nil
}

// Delete removes one submission and announces it.
func (s SubmissionService) Delete(ctx domain.Context, ownerID, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("op=submissions.Delete: %w: id required", domain.ErrInvalidArgument)
	}
	if err := s.Submissions.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("op=submissions.Delete: %w", err)
	}
	s.deleted(ctx, ownerID, []string{id})
	return nil
}

// DeleteMany removes the listed submissions, or all of them when ids is
// empty, and returns the ids actually deleted.
func (s SubmissionService) DeleteMany(ctx domain.Context, ownerID string, ids []string) ([]string, error) {
	clean := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(ids) > 0 && len(clean) == 0 {
		return nil, fmt.Errorf("op=submissions.DeleteMany: %w: ids are blank", domain.ErrInvalidArgument)
	}
	deleted, err := s.Submissions.DeleteMany(ctx, ownerID, clean)
	if err != nil {
		return nil, fmt.Errorf("op=submissions.DeleteMany: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("submissions deleted",
		slog.String("owner_id", ownerID),
		slog.Int("requested", len(clean)),
		slog.Int("deleted", len(deleted)))
	s.deleted(ctx, ownerID, deleted)
	return deleted, nil
}

func (s SubmissionService) deleted(ctx domain.Context, ownerID string, ids []string) {
	if s.Bus == nil {
		return
	}
	at := s.now()
	for _, id := range ids {
		s.Bus.PublishAsync(ctx, events.Event{
			Type:    domain.EventSubmissionDeleted,
			OwnerID: ownerID,
			At:      at,
			Payload: domain.SubmissionEvent{Type: domain.EventSubmissionDeleted, SubmissionID: id, OwnerID: ownerID, At: at},
		})
	}
}

func (s SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Export renders a submission as a plain-text report.
func (s SubmissionService) Export(ctx domain.Context, ownerID, id string) (filename string, body []byte, err error) {
	sub, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return "", nil, err
	}
	return "ielts-feedback-" + sub.ID + ".txt", []byte(RenderReport(sub, s.now())), nil
}

// RenderReport formats sub for download. Markup is resolved so the report
// reads as plain prose.
func RenderReport(sub domain.Submission, now time.Time) string {
	fb := sub.Feedback
	var b strings.Builder
	fmt.Fprintf(&b, "IELTS Writing Feedback\n")
	fmt.Fprintf(&b, "Submitted: %s (%s)\n", sub.CreatedAt.UTC().Format(time.RFC1123), humanize.RelTime(sub.CreatedAt, now, "ago", "from now"))
	if sub.QuestionID != nil {
		fmt.Fprintf(&b, "Question: %s\n", *sub.QuestionID)
	}
	fmt.Fprintf(&b, "Band score: %s\n", fb.Score)
	if sub.Degraded {
		b.WriteString("Note: the AI provider was unavailable, parts of this feedback were generated offline.\n")
	}

	section(&b, "Explanation", fb.Explanation)
	section(&b, "Your essay", sub.Essay)
	section(&b, "Marked errors", fb.MarkedErrors)
	section(&b, "Improved version", markup.Strip(fb.ImprovedText))
	section(&b, fmt.Sprintf("Band 9 version (%s words)", humanize.Comma(int64(fb.WordCount))), fb.Band9Version)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(title)))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
}

// ETag returns a stable validator for v.
func ETag(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
