package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain/mocks"
	"github.com/fairyhunter13/ielts-writing-coach/internal/events"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/fallback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/service/inflight"
	"github.com/fairyhunter13/ielts-writing-coach/internal/service/ratelimiter"
	"github.com/fairyhunter13/ielts-writing-coach/internal/usecase"
)

const essay = "Many people believe that cities offer better opportunities. However, the countryside has its own benefits. In conclusion, both have merits."

var wellFormed = "**Score**\n7.5\n\n" +
	"**Explanation**\n" + strings.Repeat("The essay addresses the task with a clear position. ", 2) + "\n\n" +
	"**Line-by-Line Analysis**\n" + strings.Repeat("Line 1: \"Many people believe...\"\n- Good topic sentence with a clear claim.\n", 3) + "\n" +
	"**Improved with Suggestions**\n" + strings.Repeat("Many people believe that cities offer {better|more better} opportunities[mistake]{Grammar: double comparative}. ", 2) + "\n\n" +
	"**Band 9 Version**\n" + strings.Repeat("It is widely held that urban centres afford residents superior prospects, yet rural areas offer tranquillity. ", 3)

type fixture struct {
	svc       usecase.AnalyzeService
	subs      *mocks.SubmissionRepository
	questions *mocks.QuestionRepository
	primary   *mocks.ChatProvider
	secondary *mocks.ChatProvider
	bus       *events.Bus
	mu        sync.Mutex
	published []domain.SubmissionEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		subs:      mocks.NewSubmissionRepository(t),
		questions: mocks.NewQuestionRepository(t),
		primary:   mocks.NewChatProvider(t),
		secondary: mocks.NewChatProvider(t),
		bus:       events.NewBus(),
	}
	f.bus.Subscribe(domain.EventSubmissionCreated, func(_ context.Context, ev events.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, ev.Payload.(domain.SubmissionEvent))
	})
	parser := feedback.NewParser(fallback.NewGenerator(fallback.StaticEnhancer{}))
	f.svc = usecase.NewAnalyzeService(f.subs, f.questions, f.primary, f.secondary, parser)
	f.svc.Bus = f.bus
	f.svc.Guard = inflight.NewMemoryGuard(time.Minute)
	f.svc.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) expectCreate(id string) {
	f.subs.On("Create", mock.Anything, mock.AnythingOfType("domain.Submission")).Return(id, nil).Once()
}

func TestAnalyze_PrimarySuccess(t *testing.T) {
	f := newFixture(t)
	f.primary.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(s domain.Submission) bool {
		return s.OwnerID == "owner-1" && s.Essay == essay && s.Provider == "primary" && !s.Degraded && s.QuestionID == nil
	})).Return("sub-1", nil).Once()

	sub, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "owner-1", Essay: "  " + essay + "\x00 "})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, "7.5", sub.Feedback.Score)
	assert.Contains(t, sub.Feedback.Explanation, "clear position")
	assert.Contains(t, sub.Feedback.MarkedErrors, "Grammar")
	assert.Positive(t, sub.Feedback.WordCount)

	f.bus.Wait()
	require.Len(t, f.published, 1)
	assert.Equal(t, domain.SubmissionEvent{
		Type: domain.EventSubmissionCreated, SubmissionID: "sub-1", OwnerID: "owner-1",
		Score: "7.5", Provider: "primary", At: sub.CreatedAt,
	}, f.published[0])
}

func TestAnalyze_FallsBackOnExhaustedCredit(t *testing.T) {
	cases := map[string]error{
		"provider 402":   &ai.ProviderError{Provider: "primary", StatusCode: 402, Body: "payment required"},
		"insufficient":   errors.New("Insufficient credits on account"),
		"wrapped status": errors.New("chat failed: status 402"),
	}
	for name, primaryErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, primaryErr).Once()
			f.secondary.On("Complete", mock.Anything, mock.Anything).
				Return(domain.Completion{Text: wellFormed, Provider: "secondary"}, nil).Once()
			f.expectCreate("sub-2")

			sub, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
			require.NoError(t, err)
			assert.Equal(t, "secondary", sub.Provider)
			assert.Equal(t, "7.5", sub.Feedback.Score)
		})
	}
}

func TestAnalyze_OtherPrimaryErrorsFail(t *testing.T) {
	f := newFixture(t)
	f.primary.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{}, &ai.ProviderError{Provider: "primary", StatusCode: 500, Body: "boom"}).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrUpstream)
	f.secondary.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAnalyze_NoSecondaryConfigured(t *testing.T) {
	f := newFixture(t)
	f.svc.Secondary = nil
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, errors.New("402 payment required")).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrUpstream)
}

func TestAnalyze_SecondaryErrorFails(t *testing.T) {
	f := newFixture(t)
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, errors.New("402")).Once()
	f.secondary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, errors.New("secondary status 500")).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "op=analyze.secondary")
}

func TestAnalyze_CannedSecondaryIsDegraded(t *testing.T) {
	f := newFixture(t)
	canned := fallback.NewGenerator(fallback.StaticEnhancer{}).CannedAnalysis(essay, domain.DefaultScore)
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, errors.New("402")).Once()
	f.secondary.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{Text: canned, Provider: "secondary", Canned: true, CannedReason: "model_loading"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(s domain.Submission) bool { return s.Degraded })).Return("sub-3", nil).Once()

	sub, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
	assert.True(t, sub.Degraded)
	assert.Equal(t, domain.DefaultScore, sub.Feedback.Score)
	for name, v := range map[string]string{
		"explanation": sub.Feedback.Explanation, "line": sub.Feedback.LineByLineAnalysis,
		"marked": sub.Feedback.MarkedErrors, "improved": sub.Feedback.ImprovedText, "band9": sub.Feedback.Band9Version,
	} {
		assert.NotEmpty(t, v, name)
	}
}

func TestAnalyze_UnstructuredReplyIsFilled(t *testing.T) {
	f := newFixture(t)
	f.primary.On("Complete", mock.Anything, mock.Anything).
		Return(domain.Completion{Text: "<think>hmm</think>I cannot follow the format, sorry.", Provider: "primary"}, nil).Once()
	f.expectCreate("sub-4")

	sub, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
	assert.Equal(t, "6.0", sub.Feedback.Score)
	assert.NotEmpty(t, sub.Feedback.Band9Version)
	assert.NotContains(t, sub.Feedback.Explanation, "<think>")
}

func TestAnalyze_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: " \x00\t "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{Essay: essay})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	f.primary.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

type fixedCounter struct{ count int }

func (c fixedCounter) Within(_, _ string, limit int) (int, bool) { return c.count, c.count <= limit }

func TestAnalyze_TokenLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.Tokens = fixedCounter{count: 2500}
	f.svc.MaxTokens = 2000

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "2500 tokens")
}

func TestAnalyze_ExplicitQuestion(t *testing.T) {
	f := newFixture(t)
	q := domain.SampleQuestion{ID: "t2-city", Prompt: "Discuss city life."}
	f.questions.On("Get", mock.Anything, "t2-city").Return(q, nil).Once()
	f.primary.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []domain.Message) bool {
		return strings.Contains(msgs[len(msgs)-1].Content, "Task:\nDiscuss city life.")
	})).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(s domain.Submission) bool {
		return s.QuestionID != nil && *s.QuestionID == "t2-city"
	})).Return("sub-5", nil).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay, QuestionID: "t2-city"})
	require.NoError(t, err)
}

func TestAnalyze_UnknownExplicitQuestion(t *testing.T) {
	f := newFixture(t)
	f.questions.On("Get", mock.Anything, "nope").Return(domain.SampleQuestion{}, domain.ErrNotFound).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay, QuestionID: "nope"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAnalyze_UsesLastSelection(t *testing.T) {
	f := newFixture(t)
	store := events.NewSelectionStore(f.bus)
	f.svc.Selections = store
	f.bus.Publish(context.Background(), events.Event{
		Type: domain.EventQuestionSelected, OwnerID: "o", Payload: events.QuestionSelected{QuestionID: "t1-chart"},
	})
	f.questions.On("Get", mock.Anything, "t1-chart").Return(domain.SampleQuestion{ID: "t1-chart", Prompt: "Describe the chart."}, nil).Once()
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(s domain.Submission) bool {
		return s.QuestionID != nil && *s.QuestionID == "t1-chart"
	})).Return("sub-6", nil).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
}

func TestAnalyze_StaleSelectionIsIgnored(t *testing.T) {
	f := newFixture(t)
	store := events.NewSelectionStore(f.bus)
	f.svc.Selections = store
	f.bus.Publish(context.Background(), events.Event{
		Type: domain.EventQuestionSelected, OwnerID: "o", Payload: events.QuestionSelected{QuestionID: "gone"},
	})
	f.questions.On("Get", mock.Anything, "gone").Return(domain.SampleQuestion{}, domain.ErrNotFound).Once()
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.MatchedBy(func(s domain.Submission) bool { return s.QuestionID == nil })).Return("sub-7", nil).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
}

func TestAnalyze_OneInFlightPerOwner(t *testing.T) {
	f := newFixture(t)
	release, err := f.svc.Guard.Acquire(context.Background(), "analysis:o")
	require.NoError(t, err)

	_, err = f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrConflict)

	release()
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.expectCreate("sub-8")
	_, err = f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
}

func TestAnalyze_BudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.svc.Budget = ratelimiter.NewMemoryLimiter(ratelimiter.BucketConfig{Capacity: 1, RefillRate: 1.0 / 3600})
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.expectCreate("sub-9")

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)

	_, err = f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *usecase.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Minute)
}

func TestAnalyze_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.primary.On("Complete", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), mock.Anything).Return("sub-10", nil).Once()

	sub, err := f.svc.Analyze(ctx, usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
	assert.Equal(t, "sub-10", sub.ID)
}

func TestAnalyze_PersistFailure(t *testing.T) {
	f := newFixture(t)
	f.primary.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.Anything, mock.Anything).Return("", errors.New("db down")).Once()

	_, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.Error(t, err)
	f.bus.Wait()
	assert.Empty(t, f.published)
}

func TestAnalyze_ProviderCallsAreBounded(t *testing.T) {
	f := newFixture(t)
	f.svc.Timeout = time.Minute
	f.primary.On("Complete", mock.MatchedBy(func(c context.Context) bool {
		d, ok := c.Deadline()
		return ok && time.Until(d) <= time.Minute
	}), mock.Anything).Return(domain.Completion{Text: wellFormed, Provider: "primary"}, nil).Once()
	f.subs.On("Create", mock.MatchedBy(func(c context.Context) bool {
		_, ok := c.Deadline()
		return !ok
	}), mock.Anything).Return("sub-11", nil).Once()

	sub, err := f.svc.Analyze(context.Background(), usecase.AnalyzeRequest{OwnerID: "o", Essay: essay})
	require.NoError(t, err)
	assert.Equal(t, "sub-11", sub.ID)
}
