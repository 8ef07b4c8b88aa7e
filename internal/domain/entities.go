package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstream          = errors.New("upstream failure")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrInternal          = errors.New("internal error")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to an AI provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ScoringSystemIELTS is the only scoring system the prompt builder knows.
const ScoringSystemIELTS = "IELTS"

// DefaultScore is used whenever a band score cannot be extracted.
const DefaultScore = "6.0"

// ParsedFeedback is the structured result extracted from a provider reply.
// Every text field is non-empty once produced by the parser.
type ParsedFeedback struct {
	Score              string `json:"score"`
	Explanation        string `json:"explanation"`
	LineByLineAnalysis string `json:"line_by_line_analysis"`
	MarkedErrors       string `json:"marked_errors"`
	ImprovedText       string `json:"improved_text"`
	Band9Version       string `json:"band9_version"`
	WordCount          int    `json:"word_count"`
}

// Submission is an analysed essay owned by a user.
// Submissions are created once and never updated; only deletion is allowed.
type Submission struct {
	ID         string
	OwnerID    string
	Essay      string
	QuestionID *string
	Feedback   ParsedFeedback
	Provider   string
	// Degraded marks feedback built from canned provider text.
	Degraded  bool
	CreatedAt time.Time
}

// SampleQuestion is a read-only writing prompt.
type SampleQuestion struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
	Title    string `json:"title" yaml:"title"`
	Prompt   string `json:"prompt" yaml:"prompt"`
	Minutes  int    `json:"minutes" yaml:"minutes"`
	MinWords int    `json:"min_words" yaml:"min_words"`
}

// Owner is the authenticated identity behind a request.
type Owner struct {
	ID    string
	Email string
}

// Completion is the text returned by a provider.
type Completion struct {
	Text     string
	Provider string
	// Canned is true when the provider could not answer and local text was substituted.
	Canned       bool
	CannedReason string
}

// Event types published for submissions and selections.
const (
	EventSubmissionCreated = "submission.created"
	EventSubmissionDeleted = "submission.deleted"
	EventQuestionSelected  = "question.selected"
)

// SubmissionEvent describes a change to an owner's history.
type SubmissionEvent struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id"`
	OwnerID      string    `json:"owner_id"`
	Score        string    `json:"score,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
	At           time.Time `json:"at"`
}

// Repositories (ports)

type SubmissionRepository interface {
	Create(ctx Context, s Submission) (string, error)
	Get(ctx Context, ownerID, id string) (Submission, error)
	List(ctx Context, ownerID string, limit, offset int) ([]Submission, error)
	Delete(ctx Context, ownerID, id string) error
	// DeleteMany removes the listed submissions, or all of the owner's when ids
	// is empty, and returns the ids actually deleted.
	DeleteMany(ctx Context, ownerID string, ids []string) ([]string, error)
}

type QuestionRepository interface {
	List(ctx Context, category string) ([]SampleQuestion, error)
	Get(ctx Context, id string) (SampleQuestion, error)
	Upsert(ctx Context, qs []SampleQuestion) (int, error)
}

// ChatProvider (port) sends a conversation to an AI provider.
type ChatProvider interface {
	Complete(ctx Context, msgs []Message) (Completion, error)
}

// EventPublisher (port) forwards submission events to downstream consumers.
type EventPublisher interface {
	Publish(ctx Context, ev SubmissionEvent) error
}

// InFlightGuard (port) allows one pending analysis per key.
// Acquire returns ErrConflict when the key is already held.
type InFlightGuard interface {
	Acquire(ctx Context, key string) (release func(), err error)
}

// Authenticator (port) resolves a bearer token to an owner.
type Authenticator interface {
	Authenticate(ctx Context, token string) (Owner, error)
}

// Context is an alias so adapters and usecases share the std context type.
type Context = context.Context
