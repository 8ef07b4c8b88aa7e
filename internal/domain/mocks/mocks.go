// Package mocks holds testify mocks of the domain ports, in the layout
// mockery produces.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// SubmissionRepository mocks domain.SubmissionRepository.
type SubmissionRepository struct{ mock.Mock }

// NewSubmissionRepository creates a mock whose expectations are asserted on cleanup.
func NewSubmissionRepository(t testingT) *SubmissionRepository {
	m := &SubmissionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SubmissionRepository) Create(ctx domain.Context, s domain.Submission) (string, error) {
	ret := m.Called(ctx, s)
	return ret.String(0), ret.Error(1)
}

func (m *SubmissionRepository) Get(ctx domain.Context, ownerID, id string) (domain.Submission, error) {
	ret := m.Called(ctx, ownerID, id)
	return ret.Get(0).(domain.Submission), ret.Error(1)
}

func (m *SubmissionRepository) List(ctx domain.Context, ownerID string, limit, offset int) ([]domain.Submission, error) {
	ret := m.Called(ctx, ownerID, limit, offset)
	out, _ := ret.Get(0).([]domain.Submission)
	return out, ret.Error(1)
}

func (m *SubmissionRepository) Delete(ctx domain.Context, ownerID, id string) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

func (m *SubmissionRepository) DeleteMany(ctx domain.Context, ownerID string, ids []string) ([]string, error) {
	ret := m.Called(ctx, ownerID, ids)
	out, _ := ret.Get(0).([]string)
	return out, ret.Error(1)
}

// QuestionRepository mocks domain.QuestionRepository.
type QuestionRepository struct{ mock.Mock }

// NewQuestionRepository creates a mock whose expectations are asserted on cleanup.
func NewQuestionRepository(t testingT) *QuestionRepository {
	m := &QuestionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *QuestionRepository) List(ctx domain.Context, category string) ([]domain.SampleQuestion, error) {
	ret := m.Called(ctx, category)
	out, _ := ret.Get(0).([]domain.SampleQuestion)
	return out, ret.Error(1)
}

func (m *QuestionRepository) Get(ctx domain.Context, id string) (domain.SampleQuestion, error) {
	ret := m.Called(ctx, id)
	return ret.Get(0).(domain.SampleQuestion), ret.Error(1)
}

func (m *QuestionRepository) Upsert(ctx domain.Context, qs []domain.SampleQuestion) (int, error) {
	ret := m.Called(ctx, qs)
	return ret.Int(0), ret.Error(1)
}

// ChatProvider mocks domain.ChatProvider.
type ChatProvider struct{ mock.Mock }

// NewChatProvider creates a mock whose expectations are asserted on cleanup.
func NewChatProvider(t testingT) *ChatProvider {
	m := &ChatProvider{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ChatProvider) Complete(ctx domain.Context, msgs []domain.Message) (domain.Completion, error) {
	ret := m.Called(ctx, msgs)
	return ret.Get(0).(domain.Completion), ret.Error(1)
}

// EventPublisher mocks domain.EventPublisher.
type EventPublisher struct{ mock.Mock }

// NewEventPublisher creates a mock whose expectations are asserted on cleanup.
func NewEventPublisher(t testingT) *EventPublisher {
	m := &EventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EventPublisher) Publish(ctx domain.Context, ev domain.SubmissionEvent) error {
	return m.Called(ctx, ev).Error(0)
}

// Authenticator mocks domain.Authenticator.
type Authenticator struct{ mock.Mock }

// NewAuthenticator creates a mock whose expectations are asserted on cleanup.
func NewAuthenticator(t testingT) *Authenticator {
	m := &Authenticator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Authenticator) Authenticate(ctx domain.Context, token string) (domain.Owner, error) {
	ret := m.Called(ctx, token)
	return ret.Get(0).(domain.Owner), ret.Error(1)
}
