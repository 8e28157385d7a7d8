// Package server exposes the answer engine over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/answerengine/internal/answer"
	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/database"
	"github.com/TobiSchelling/answerengine/internal/intent"
	"github.com/TobiSchelling/answerengine/internal/validate"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const maxBodyBytes = 1 << 20

// Answerer runs a question through the pipeline.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Result, error)
}

// RunStore reads the answer-run log.
type RunStore interface {
	GetAnswerRun(ctx context.Context, id string) (*database.AnswerRun, error)
	ListAnswerRuns(ctx context.Context, userID string, limit int) ([]database.AnswerRun, error)
}

// Options configure optional server dependencies.
type Options struct {
	Logger logrus.FieldLogger
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// RunsPerPage caps the index listing.
	RunsPerPage int
}

// Server is the HTTP server for answers and the run log.
type Server struct {
	runs     RunStore
	engine   Answerer
	logger   logrus.FieldLogger
	gatherer prometheus.Gatherer
	perPage  int
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server.
func New(runs RunStore, engine Answerer, opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"when": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04")
		},
		"pct": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return fmt.Sprintf("%.2f%%", *v*100)
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page clones the base so it gets its own "title" and "content".
	pageNames := []string{"index.html", "answer.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RunsPerPage <= 0 {
		opts.RunsPerPage = 50
	}

	s := &Server{
		runs:     runs,
		engine:   engine,
		logger:   opts.Logger,
		gatherer: opts.Gatherer,
		perPage:  opts.RunsPerPage,
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("POST /api/answers", s.handleCreateAnswer)
	s.mux.HandleFunc("GET /api/answers/{id}", s.handleGetAnswer)
	s.mux.HandleFunc("POST /api/validate", s.handleValidate)

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /answers/{id}", s.handleAnswerPage)
}

type answerRequest struct {
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	Followers *int   `json:"followers,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func (s *Server) handleCreateAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Query = strings.TrimSpace(req.Query)
	if req.UserID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "user_id and query are required")
		return
	}

	res, err := s.engine.Answer(r.Context(), answer.Request{
		UserID:    req.UserID,
		Query:     req.Query,
		Followers: req.Followers,
		DryRun:    req.DryRun,
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Error("Answer failed")
		writeError(w, http.StatusInternalServerError, "answer failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runResponse struct {
	database.AnswerRun
	Pack json.RawMessage `json:"pack,omitempty"`
}

func (s *Server) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetAnswerRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.WithError(err).Error("Loading answer run failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "answer not found")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{AnswerRun: *run, Pack: run.Pack})
}

type validateRequest struct {
	Text  string          `json:"text"`
	Pack  json.RawMessage `json:"pack"`
	Focus intent.Focus    `json:"focus"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Pack) == 0 {
		writeError(w, http.StatusBadRequest, "pack is required")
		return
	}
	pack, err := contextpack.Parse(req.Pack)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, validate.Check(req.Text, pack, req.Focus))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	runs, err := s.runs.ListAnswerRuns(r.Context(), user, s.perPage)
	if err != nil {
		s.logger.WithError(err).Error("Listing answer runs failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Runs": runs,
		"User": user,
	})
}

func (s *Server) handleAnswerPage(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetAnswerRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.WithError(err).Error("Loading answer run failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	var pack *contextpack.ContextPack
	if len(run.Pack) > 0 {
		if pack, err = contextpack.Parse(run.Pack); err != nil {
			s.logger.WithError(err).WithField("run_id", run.ID).Warn("Stored pack is unreadable")
		}
	}

	s.render(w, "answer.html", map[string]any{
		"Run":  run,
		"Pack": pack,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.WithError(err).Errorf("Error rendering template %s", name)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
