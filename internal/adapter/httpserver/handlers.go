package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/markup"
	"github.com/fairyhunter13/ielts-writing-coach/internal/usecase"
)

// Probe is one named readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg         config.Config
	Analyze     usecase.AnalyzeService
	Submissions usecase.SubmissionService
	Questions   usecase.QuestionService
	Probes      []Probe
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, analyze usecase.AnalyzeService, subs usecase.SubmissionService, qs usecase.QuestionService, probes ...Probe) *Server {
	return &Server{Cfg: cfg, Analyze: analyze, Submissions: subs, Questions: qs, Probes: probes}
}

type analyzeRequest struct {
	Essay      string `json:"essay" validate:"required,max=60000"`
	QuestionID string `json:"question_id" validate:"omitempty,max=128"`
}

type submissionResponse struct {
	ID         string                `json:"id"`
	QuestionID *string               `json:"question_id"`
	Essay      string                `json:"essay"`
	Feedback   domain.ParsedFeedback `json:"feedback"`
	Provider   string                `json:"provider"`
	Degraded   bool                  `json:"degraded"`
	CreatedAt  time.Time             `json:"created_at"`
	Rendered   *renderedFeedback     `json:"rendered,omitempty"`
}

// renderedFeedback is the HTML view of the marked-up feedback fields.
type renderedFeedback struct {
	LineByLineAnalysis string              `json:"line_by_line_analysis"`
	ImprovedText       string              `json:"improved_text"`
	Mistakes           []markup.Annotation `json:"mistakes"`
}

func toResponse(s domain.Submission, html bool) submissionResponse {
	out := submissionResponse{
		ID:         s.ID,
		QuestionID: s.QuestionID,
		Essay:      s.Essay,
		Feedback:   s.Feedback,
		Provider:   s.Provider,
		Degraded:   s.Degraded,
		CreatedAt:  s.CreatedAt.UTC(),
	}
	if html {
		mistakes := markup.Mistakes(s.Feedback.ImprovedText)
		if mistakes == nil {
			mistakes = []markup.Annotation{}
		}
		out.Rendered = &renderedFeedback{
			LineByLineAnalysis: markup.RenderHTML(s.Feedback.LineByLineAnalysis),
			ImprovedText:       markup.RenderHTML(s.Feedback.ImprovedText),
			Mistakes:           mistakes,
		}
	}
	return out
}

func ownerID(r *http.Request) string {
	o, _ := OwnerFromContext(r.Context())
	return o.ID
}

func (s *Server) maxUploadBytes() int64 {
	if s.Cfg.MaxUploadKB <= 0 {
		return 256 * 1024
	}
	return s.Cfg.MaxUploadKB * 1024
}

// AnalyzeHandler handles POST /v1/analyses with a JSON body or a multipart .txt upload.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := s.maxUploadBytes()
		r.Body = http.MaxBytesReader(w, r.Body, limit+64*1024)

		var req analyzeRequest
		if isMultipart(r) {
			essay, qid, err := readUploadedEssay(r, limit)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			req = analyzeRequest{Essay: essay, QuestionID: qid}
			if err := getValidator().Struct(req); err != nil {
				writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
				return
			}
		} else {
			details, err := decodeJSON(r, &req, false)
			if err != nil {
				writeError(w, r, err, details)
				return
			}
		}

		sub, err := s.Analyze.Analyze(r.Context(), usecase.AnalyzeRequest{
			OwnerID:    ownerID(r),
			Essay:      req.Essay,
			QuestionID: strings.TrimSpace(req.QuestionID),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Location", "/v1/submissions/"+sub.ID)
		writeJSON(w, http.StatusCreated, toResponse(sub, wantsHTML(r)))
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "html")
}

// ListSubmissionsHandler handles GET /v1/submissions.
func (s *Server) ListSubmissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, r, err, map[string]string{"limit": "min=0"})
			return
		}
		offset, err := queryInt(r, "offset")
		if err != nil {
			writeError(w, r, err, map[string]string{"offset": "min=0"})
			return
		}
		subs, err := s.Submissions.List(r.Context(), ownerID(r), limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items := make([]submissionResponse, 0, len(subs))
		for _, sub := range subs {
			items = append(items, toResponse(sub, false))
		}
		if limit <= 0 {
			limit = usecase.DefaultPageSize
		}
		if limit > usecase.MaxPageSize {
			limit = usecase.MaxPageSize
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

// GetSubmissionHandler handles GET /v1/submissions/{id}. It honours If-None-Match.
func (s *Server) GetSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := validID(id); err != nil {
			writeError(w, r, err, map[string]string{"id": "invalid"})
			return
		}
		sub, err := s.Submissions.Get(r.Context(), ownerID(r), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := toResponse(sub, wantsHTML(r))
		etag := usecase.ETag(resp)
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "private, no-cache")
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ExportSubmissionHandler handles GET /v1/submissions/{id}/export.
func (s *Server) ExportSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := validID(id); err != nil {
			writeError(w, r, err, map[string]string{"id": "invalid"})
			return
		}
		name, body, err := s.Submissions.Export(r.Context(), ownerID(r), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// DeleteSubmissionHandler handles DELETE /v1/submissions/{id}.
func (s *Server) DeleteSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := validID(id); err != nil {
			writeError(w, r, err, map[string]string{"id": "invalid"})
			return
		}
		if err := s.Submissions.Delete(r.Context(), ownerID(r), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type deleteManyRequest struct {
	IDs []string `json:"ids" validate:"omitempty,max=500,dive,required,max=128"`
}

// DeleteSubmissionsHandler handles DELETE /v1/submissions. Without ids every
// submission of the caller is removed.
func (s *Server) DeleteSubmissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
		var req deleteManyRequest
		details, err := decodeJSON(r, &req, true)
		if err != nil {
			writeError(w, r, err, details)
			return
		}
		deleted, err := s.Submissions.DeleteMany(r.Context(), ownerID(r), req.IDs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if deleted == nil {
			deleted = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "count": len(deleted)})
	}
}

// ListQuestionsHandler handles GET /v1/questions.
func (s *Server) ListQuestionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		if err := getValidator().Var(category, "omitempty,alphanum,max=32"); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid category", domain.ErrInvalidArgument), map[string]string{"category": "alphanum"})
			return
		}
		qs, err := s.Questions.List(r.Context(), category)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": qs})
	}
}

// GetQuestionHandler handles GET /v1/questions/{id}.
func (s *Server) GetQuestionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := validID(id); err != nil {
			writeError(w, r, err, map[string]string{"id": "invalid"})
			return
		}
		q, err := s.Questions.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// SelectQuestionHandler handles POST /v1/questions/{id}/select.
func (s *Server) SelectQuestionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := validID(id); err != nil {
			writeError(w, r, err, map[string]string{"id": "invalid"})
			return
		}
		q, err := s.Questions.Select(r.Context(), ownerID(r), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": q})
	}
}

// ReloadQuestionsHandler handles POST /admin/questions/reload.
func (s *Server) ReloadQuestionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.Questions.Reload(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"upserted": n})
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler runs every probe and answers 503 when any fails.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		checks := make([]usecase.ReadinessCheck, 0, len(s.Probes))
		ready := true
		for _, p := range s.Probes {
			c := usecase.ReadinessCheck{Name: p.Name, OK: true}
			if p.Check != nil {
				if err := p.Check(ctx); err != nil {
					c.OK = false
					c.Details = err.Error()
					ready = false
				}
			}
			checks = append(checks, c)
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
