// Package web serves the scholardex front end: a small page per tool
// plus the JSON endpoints the pages post to. Handlers block on the
// bridge, so a response can legitimately take the full configured
// timeout to arrive.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/dataproc"
)

// LastIndexCookie remembers the correlation id of the visitor's most
// recent indexing run.
const LastIndexCookie = "scholardex_last_index"

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Searcher is the slice of the client the handlers need.
type Searcher interface {
	IndexPapers(ctx context.Context, scholarURL string) (*contracts.SearchAck, error)
	SearchTerm(ctx context.Context, term string) (*contracts.TermSearchResult, error)
	TopTerms(ctx context.Context, n int) (*contracts.TopNResult, error)
}

// Server routes the front end.
type Server struct {
	searcher Searcher
	trigger  *dataproc.Trigger
	health   http.Handler
	logger   *slog.Logger
	mux      *http.ServeMux
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthHandler mounts handler at /healthz.
func WithHealthHandler(handler http.Handler) ServerOption {
	return func(s *Server) {
		s.health = handler
	}
}

// WithJobTrigger wires the batch indexing hook fired after a
// successful submission.
func WithJobTrigger(trigger *dataproc.Trigger) ServerOption {
	return func(s *Server) {
		s.trigger = trigger
	}
}

// NewServer builds the route table around the given searcher.
func NewServer(searcher Searcher, options ...ServerOption) *Server {
	s := &Server{
		searcher: searcher,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.health == nil {
		s.health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/index-papers", s.handleIndexPapers)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/topn", s.handleTopN)
	mux.Handle("/healthz", s.health)
	mux.Handle("/metrics", promhttp.Handler())
	s.mux = mux

	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to thirty seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.mux,
		// No WriteTimeout: a handler may hold its response for the
		// full bridge deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("web server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("forcing web server close", "error", err)
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.renderPage(w, "home.html", pageData{Title: "Scholardex", LastIndex: lastIndexID(r)})
}

type indexResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
	ScholarURL    string `json:"scholar_url"`
}

func (s *Server) handleIndexPapers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	scholarURL := strings.TrimSpace(payloadValue(r, "scholar_url"))
	if scholarURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scholar_url is required"})
		return
	}

	ack, err := s.searcher.IndexPapers(r.Context(), scholarURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	correlationID := ack.GetCorrelationID()
	http.SetCookie(w, &http.Cookie{
		Name:     LastIndexCookie,
		Value:    correlationID,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
	})

	// The batch trigger is a side hook; the response never waits on it.
	if s.trigger != nil && s.trigger.Configured() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			ref, err := s.trigger.Submit(ctx, scholarURL)
			if err != nil {
				s.logger.Error("dataproc trigger failed", "scholar_url", scholarURL, "error", err)
				return
			}
			s.logger.Info("dataproc job triggered", "job_id", ref.ID, "cluster", ref.Cluster)
		}()
	}

	writeJSON(w, http.StatusOK, indexResponse{
		Status:        "submitted",
		CorrelationID: correlationID,
		ScholarURL:    scholarURL,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.renderPage(w, "search.html", pageData{Title: "Term Search", LastIndex: lastIndexID(r)})

	case http.MethodPost:
		term := strings.TrimSpace(payloadValue(r, "term"))
		if term == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "term is required"})
			return
		}

		result, err := s.searcher.SearchTerm(r.Context(), term)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTopN(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.renderPage(w, "topn.html", pageData{Title: "Top Terms", LastIndex: lastIndexID(r)})

	case http.MethodPost:
		raw := strings.TrimSpace(payloadValue(r, "n"))
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
			return
		}

		result, err := s.searcher.TopTerms(r.Context(), n)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// writeError maps bridge failures onto gateway status codes: an
// unanswered request is a gateway timeout, an unreachable broker a bad
// upstream. Everything else stays an internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var timeoutErr *contracts.TimeoutError
	var connErr *contracts.ConnectionError
	switch {
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	case errors.As(err, &connErr):
		status = http.StatusBadGateway
	}

	s.logger.Error("request failed",
		"path", r.URL.Path,
		"status", status,
		"error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type pageData struct {
	Title     string
	LastIndex string
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render page", "template", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// payloadValue reads key from a JSON object body or an HTML form body,
// depending on the request content type.
func payloadValue(r *http.Request, key string) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return ""
		}
		switch v := body[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return ""
	}
	return r.FormValue(key)
}

func lastIndexID(r *http.Request) string {
	cookie, err := r.Cookie(LastIndexCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}
