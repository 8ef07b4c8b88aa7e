// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/events"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/prompt"
	"github.com/fairyhunter13/ielts-writing-coach/pkg/textx"
)

// Analysis outcomes recorded in analyses_total.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// TokenCounter bounds essay size in model tokens.
type TokenCounter interface {
	Within(text, model string, limit int) (count int, ok bool)
}

// Budget is a per-owner allowance of analyses.
type Budget interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// SelectionReader returns an owner's last selected question.
type SelectionReader interface {
	Last(ownerID string) (string, bool)
}

// RateLimitedError reports an exhausted analysis budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("analysis budget exhausted, retry in %s", e.RetryAfter.Round(time.Second))
}

// Unwrap makes errors.Is(err, domain.ErrRateLimited) hold.
func (e *RateLimitedError) Unwrap() error { return domain.ErrRateLimited }

// AnalyzeRequest is one essay submitted for feedback.
type AnalyzeRequest struct {
	OwnerID    string
	Essay      string
	QuestionID string
}

// AnalyzeService runs an essay through the primary provider, falls back to
// the secondary one when the primary is out of credit, parses the reply and
// stores the submission.
type AnalyzeService struct {
	Submissions domain.SubmissionRepository
	Questions   domain.QuestionRepository
	Primary     domain.ChatProvider
	// Secondary is optional.
	Secondary  domain.ChatProvider
	Parser     *feedback.Parser
	Tokens     TokenCounter
	Model      string
	MaxTokens  int
	Guard      domain.InFlightGuard
	Budget     Budget
	Selections SelectionReader
	Bus        *events.Bus
	// Timeout bounds the provider calls; zero leaves them unbounded.
	Timeout time.Duration
	Now     func() time.Time
}

// NewAnalyzeService constructs an AnalyzeService with its required dependencies.
// Optional collaborators are set on the returned value.
func NewAnalyzeService(subs domain.SubmissionRepository, qs domain.QuestionRepository, primary, secondary domain.ChatProvider, parser *feedback.Parser) AnalyzeService {
	return AnalyzeService{Submissions: subs, Questions: qs, Primary: primary, Secondary: secondary, Parser: parser}
}

func (s AnalyzeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Analyze validates req, obtains feedback and persists the submission.
// Provider calls are not cancelled when ctx is; Timeout bounds them instead.
func (s AnalyzeService) Analyze(ctx domain.Context, req AnalyzeRequest) (domain.Submission, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("owner_id", req.OwnerID))

	essay, question, err := s.validate(ctx, req)
	if err != nil {
		observability.ObserveAnalysis(OutcomeRejected, "")
		return domain.Submission{}, err
	}

	if s.Guard != nil {
		release, err := s.Guard.Acquire(ctx, "analysis:"+req.OwnerID)
		if err != nil {
			observability.ObserveAnalysis(OutcomeRejected, "")
			return domain.Submission{}, fmt.Errorf("op=analyze.Analyze: %w", err)
		}
		defer release()
	}

	if s.Budget != nil {
		allowed, retryAfter, err := s.Budget.Allow(ctx, "analysis:"+req.OwnerID, 1)
		if err != nil {
			lg.Warn("analysis budget unavailable, allowing", slog.Any("error", err))
		}
		if !allowed {
			observability.ObserveAnalysis(OutcomeRejected, "")
			return domain.Submission{}, fmt.Errorf("op=analyze.Analyze: %w", &RateLimitedError{RetryAfter: retryAfter})
		}
	}

	ctx = context.WithoutCancel(ctx)
	msgs := prompt.Build(essay, question.Prompt, domain.ScoringSystemIELTS)

	callCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	comp, err := s.complete(callCtx, msgs, lg)
	if err != nil {
		observability.ObserveAnalysis(OutcomeFailed, "")
		return domain.Submission{}, err
	}

	fb, rep := s.Parser.ParseWithReport(ai.CleanReply(comp.Text), essay)
	observability.ObserveSynthesized(rep.Synthesized)
	if len(rep.Synthesized) > 0 {
		lg.Info("feedback sections synthesized",
			slog.String("provider", comp.Provider),
			slog.Any("sections", rep.Synthesized))
	}

	sub := domain.Submission{
		OwnerID:   req.OwnerID,
		Essay:     essay,
		Feedback:  fb,
		Provider:  comp.Provider,
		Degraded:  comp.Canned,
		CreatedAt: s.now(),
	}
	if question.ID != "" {
		qid := question.ID
		sub.QuestionID = &qid
	}
	id, err := s.Submissions.Create(ctx, sub)
	if err != nil {
		observability.ObserveAnalysis(OutcomeFailed, "")
		return domain.Submission{}, fmt.Errorf("op=analyze.Analyze: persist: %w", err)
	}
	sub.ID = id

	if s.Bus != nil {
		s.Bus.PublishAsync(ctx, events.Event{
			Type:    domain.EventSubmissionCreated,
			OwnerID: sub.OwnerID,
			At:      sub.CreatedAt,
			Payload: domain.SubmissionEvent{
				Type:         domain.EventSubmissionCreated,
				SubmissionID: sub.ID,
				OwnerID:      sub.OwnerID,
				Score:        fb.Score,
				Provider:     sub.Provider,
				Degraded:     sub.Degraded,
				At:           sub.CreatedAt,
			},
		})
	}

	outcome := OutcomeOK
	if sub.Degraded {
		outcome = OutcomeDegraded
	}
	observability.ObserveAnalysis(outcome, fb.Score)
	lg.Info("analysis completed",
		slog.String("submission_id", sub.ID),
		slog.String("provider", sub.Provider),
		slog.String("score", fb.Score),
		slog.Bool("degraded", sub.Degraded))
	return sub, nil
}

// validate returns the sanitised essay and the question it answers, if any.
func (s AnalyzeService) validate(ctx domain.Context, req AnalyzeRequest) (string, domain.SampleQuestion, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return "", domain.SampleQuestion{}, fmt.Errorf("op=analyze.validate: %w", domain.ErrUnauthenticated)
	}
	essay := strings.TrimSpace(textx.SanitizeText(req.Essay))
	if essay == "" {
		return "", domain.SampleQuestion{}, fmt.Errorf("op=analyze.validate: %w: essay is required", domain.ErrInvalidArgument)
	}
	if s.Tokens != nil && s.MaxTokens > 0 {
		if n, ok := s.Tokens.Within(essay, s.Model, s.MaxTokens); !ok {
			return "", domain.SampleQuestion{}, fmt.Errorf("op=analyze.validate: %w: essay is %d tokens, the limit is %d", domain.ErrInvalidArgument, n, s.MaxTokens)
		}
	}

	qid := strings.TrimSpace(req.QuestionID)
	explicit := qid != ""
	if !explicit && s.Selections != nil {
		qid, _ = s.Selections.Last(req.OwnerID)
	}
	if qid == "" || s.Questions == nil {
		return essay, domain.SampleQuestion{}, nil
	}
	q, err := s.Questions.Get(ctx, qid)
	switch {
	case err == nil:
		return essay, q, nil
	case errors.Is(err, domain.ErrNotFound) && explicit:
		return "", domain.SampleQuestion{}, fmt.Errorf("op=analyze.validate: %w: unknown question %q", domain.ErrInvalidArgument, qid)
	case errors.Is(err, domain.ErrNotFound):
		// A selection can outlive a reseed; analyse without the task.
		observability.LoggerFromContext(ctx).Warn("selected question no longer exists", slog.String("question_id", qid))
		return essay, domain.SampleQuestion{}, nil
	default:
		return "", domain.SampleQuestion{}, fmt.Errorf("op=analyze.validate: %w", err)
	}
}

// complete asks the primary provider and switches to the secondary only when
// the primary reports exhausted credit.
func (s AnalyzeService) complete(ctx domain.Context, msgs []domain.Message, lg *slog.Logger) (domain.Completion, error) {
	comp, err := s.Primary.Complete(ctx, msgs)
	if err == nil {
		return comp, nil
	}
	if !ai.ShouldFallback(err) {
		lg.Error("primary provider failed", slog.Any("error", err))
		return domain.Completion{}, upstream("op=analyze.primary", err)
	}
	if s.Secondary == nil {
		lg.Error("primary provider out of credit and no secondary configured", slog.Any("error", err))
		return domain.Completion{}, upstream("op=analyze.primary", err)
	}
	lg.Warn("primary provider out of credit, using secondary", slog.Any("error", err))
	comp, err = s.Secondary.Complete(ctx, msgs)
	if err != nil {
		lg.Error("secondary provider failed", slog.Any("error", err))
		return domain.Completion{}, upstream("op=analyze.secondary", err)
	}
	return comp, nil
}

func upstream(op string, err error) error {
	if errors.Is(err, domain.ErrUpstream) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrUpstream, err))
}
