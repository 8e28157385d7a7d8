package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/answer"
	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/database"
	"github.com/TobiSchelling/answerengine/internal/logging"
	"github.com/TobiSchelling/answerengine/internal/metrics"
	"github.com/TobiSchelling/answerengine/internal/validate"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type stubEngine struct {
	got answer.Request
	res *answer.Result
	err error
}

func (s *stubEngine) Answer(_ context.Context, req answer.Request) (*answer.Result, error) {
	s.got = req
	return s.res, s.err
}

func newTestServer(t *testing.T, db *database.DB, engine Answerer) *Server {
	t.Helper()
	srv, err := New(db, engine, Options{Logger: logging.Discard(), Gatherer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedRun(t *testing.T, db *database.DB) {
	t.Helper()
	pack := &contextpack.ContextPack{
		ID:    "run-1",
		Query: "me traga reels top",
		TopPosts: []contextpack.Post{{
			ID:           "abc",
			Permalink:    "https://instagram.com/p/abc",
			Formats:      []string{"reel"},
			Interactions: 640,
		}},
	}
	packJSON, err := pack.JSON()
	if err != nil {
		t.Fatalf("pack JSON: %v", err)
	}
	err = db.InsertAnswerRun(context.Background(), database.AnswerRun{
		ID:        "run-1",
		UserID:    "u1",
		Query:     "me traga reels top",
		Intent:    "top_performance_inspirations",
		Passed:    true,
		Score:     100,
		Issues:    []string{},
		Text:      "## Diagnóstico\nO **reel** foi bem.",
		Pack:      packJSON,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("InsertAnswerRun: %v", err)
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db)
	srv := newTestServer(t, db, &stubEngine{})

	rec := do(srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "me traga reels top") || !strings.Contains(body, "/answers/run-1") {
		t.Error("expected run listed in index")
	}
}

func TestIndexEmpty(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{})
	rec := do(srv, "GET", "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No answers yet") {
		t.Errorf("unexpected empty index: %d", rec.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{})
	if rec := do(srv, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAnswerPageRendersMarkdown(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db)
	srv := newTestServer(t, db, &stubEngine{})

	rec := do(srv, "GET", "/answers/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>reel</strong>") {
		t.Error("expected markdown rendered to HTML")
	}
	if !strings.Contains(body, "https://instagram.com/p/abc") {
		t.Error("expected evidence post linked")
	}

	if rec := do(srv, "GET", "/answers/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestCreateAnswer(t *testing.T) {
	engine := &stubEngine{res: &answer.Result{ID: "new", UserID: "u1", Query: "reels top", Text: "ok"}}
	srv := newTestServer(t, openTestDB(t), engine)

	rec := do(srv, "POST", "/api/answers", `{"user_id":"u1","query":" reels top ","followers":1200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.got.Query != "reels top" || engine.got.Followers == nil || *engine.got.Followers != 1200 {
		t.Errorf("unexpected engine request %+v", engine.got)
	}
	var res answer.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ID != "new" || res.Text != "ok" {
		t.Errorf("unexpected response %+v", res)
	}
}

func TestCreateAnswerBadRequests(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{})
	for _, body := range []string{`{`, `{"user_id":"u1"}`, `{"user_id":"u1","query":"x","extra":1}`} {
		if rec := do(srv, "POST", "/api/answers", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCreateAnswerEngineError(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{err: errors.New("db locked")})
	rec := do(srv, "POST", "/api/answers", `{"user_id":"u1","query":"x"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db locked") {
		t.Error("internal error details should not leak")
	}
}

func TestGetAnswerJSON(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db)
	srv := newTestServer(t, db, &stubEngine{})

	rec := do(srv, "GET", "/api/answers/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ID   string                  `json:"id"`
		Pack contextpack.ContextPack `json:"pack"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "run-1" || len(got.Pack.TopPosts) != 1 {
		t.Errorf("unexpected run %+v", got)
	}

	if rec := do(srv, "GET", "/api/answers/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestValidateRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{})
	body := `{
		"text": "Veja https://evil.example.com/x",
		"pack": {"id":"p","query":"me traga reels top","top_posts":[{"id":"abc","permalink":"https://instagram.com/p/abc","formats":["reel"],"interactions":10}]}
	}`
	rec := do(srv, "POST", "/api/validate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report validate.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Sanitized.UsedFallback || report.Sanitized.RemovedLines != 1 {
		t.Errorf("expected foreign line removed, got %+v", report.Sanitized)
	}
	if report.Validation != nil {
		t.Errorf("fallback text should not be scored, got %+v", report.Validation)
	}
	if report.Spec.Anchor != "reels top" {
		t.Errorf("anchor = %q", report.Spec.Anchor)
	}

	if rec := do(srv, "POST", "/api/validate", `{"text":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without pack, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Fallback(answer.FallbackEmptyPack)

	srv, err := New(openTestDB(t), &stubEngine{}, Options{Logger: logrus.New(), Gatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := do(srv, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `answerengine_fallbacks_total{reason="empty_pack"} 1`) {
		t.Errorf("expected fallback counter in output:\n%s", rec.Body.String())
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), &stubEngine{})
	rec := do(srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
