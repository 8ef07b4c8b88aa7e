package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/events"
	"github.com/fairyhunter13/ielts-writing-coach/internal/seed"
)

// QuestionService serves sample questions and records selections.
type QuestionService struct {
	Questions domain.QuestionRepository
	Bus       *events.Bus
	// SeedFile is re-read by Reload.
	SeedFile    string
	SeedOptions seed.Options
	Now         func() time.Time
}

// NewQuestionService constructs a QuestionService.
func NewQuestionService(r domain.QuestionRepository, bus *events.Bus, seedFile string) QuestionService {
	return QuestionService{Questions: r, Bus: bus, SeedFile: seedFile}
}

// List returns questions in category, or all of them when it is empty.
func (s QuestionService) List(ctx domain.Context, category string) ([]domain.SampleQuestion, error) {
	out, err := s.Questions.List(ctx, strings.ToLower(strings.TrimSpace(category)))
	if err != nil {
		return nil, fmt.Errorf("op=questions.List: %w", err)
	}
	if out == nil {
		out = []domain.SampleQuestion{}
	}
	return out, nil
}

// Get returns one question.
func (s QuestionService) Get(ctx domain.Context, id string) (domain.SampleQuestion, error) {
	if strings.TrimSpace(id) == "" {
		return domain.SampleQuestion{}, fmt.Errorf("op=questions.Get: %w: id required", domain.ErrInvalidArgument)
	}
	q, err := s.Questions.Get(ctx, id)
	if err != nil {
		return domain.SampleQuestion{}, fmt.Errorf("op=questions.Get: %w", err)
	}
	return q, nil
}

// Select makes id the owner's question for their next analysis. The choice
// is announced on the bus; subscribers keep it.
func (s QuestionService) Select(ctx domain.Context, ownerID, id string) (domain.SampleQuestion, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return domain.SampleQuestion{}, err
	}
	if s.Bus != nil {
		at := time.Now().UTC()
		if s.Now != nil {
			at = s.Now().UTC()
		}
		s.Bus.Publish(ctx, events.Event{
			Type:    domain.EventQuestionSelected,
			OwnerID: ownerID,
			At:      at,
			Payload: events.QuestionSelected{QuestionID: q.ID},
		})
	}
	return q, nil
}

// Reload re-reads the seed file and upserts its questions.
func (s QuestionService) Reload(ctx domain.Context) (int, error) {
	if s.SeedFile == "" {
		return 0, fmt.Errorf("op=questions.Reload: %w: no seed file configured", domain.ErrInvalidArgument)
	}
	n, err := seed.SeedFile(ctx, s.Questions, s.SeedFile, s.SeedOptions)
	if err != nil {
		return 0, fmt.Errorf("op=questions.Reload: %w", err)
	}
	return n, nil
}
