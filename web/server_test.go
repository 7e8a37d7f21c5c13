package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/dataproc"
	"github.com/scholardex/scholardex-go/health"
)

// stubSearcher answers with canned values, or with err when set.
type stubSearcher struct {
	err error

	mu       sync.Mutex
	lastURL  string
	lastTerm string
	lastN    int
}

func (s *stubSearcher) IndexPapers(ctx context.Context, scholarURL string) (*contracts.SearchAck, error) {
	s.mu.Lock()
	s.lastURL = scholarURL
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ack := &contracts.SearchAck{}
	ack.SetCorrelationID("corr-123")
	return ack, nil
}

func (s *stubSearcher) SearchTerm(ctx context.Context, term string) (*contracts.TermSearchResult, error) {
	s.mu.Lock()
	s.lastTerm = term
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	result := &contracts.TermSearchResult{
		Results: []contracts.ScoredDocument{
			{DocID: "doc-1", URL: "https://example.org/paper", DocName: "A Paper", Citations: 5, Frequency: 2},
		},
		ExecutionTime: 0.08,
	}
	result.SetCorrelationID("corr-456")
	return result, nil
}

func (s *stubSearcher) TopTerms(ctx context.Context, n int) (*contracts.TopNResult, error) {
	s.mu.Lock()
	s.lastN = n
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	result := &contracts.TopNResult{}
	for i := 0; i < n; i++ {
		result.Results = append(result.Results, contracts.TermFrequency{Term: "t", TotalFrequency: n - i})
	}
	result.SetCorrelationID("corr-789")
	return result, nil
}

func newTestServer(t *testing.T, searcher Searcher, options ...ServerOption) http.Handler {
	t.Helper()
	options = append([]ServerOption{
		WithLogger(slog.New(slog.NewTextHandler(testWriter{t}, nil))),
	}, options...)
	return NewServer(searcher, options...).Handler()
}

func postJSON(handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func postForm(handler http.Handler, path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHomePage(t *testing.T) {
	t.Run("serves the landing page", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := get(handler, "/")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "Scholardex")
	})

	t.Run("shows the visitor's last indexing run from the cookie", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: LastIndexCookie, Value: "corr-previous"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Contains(t, rec.Body.String(), "corr-previous")
	})

	t.Run("unknown paths are 404", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})
		assert.Equal(t, http.StatusNotFound, get(handler, "/nope").Code)
	})

	t.Run("rejects POST to the landing page", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})
		assert.Equal(t, http.StatusMethodNotAllowed, postJSON(handler, "/", nil).Code)
	})
}

func TestIndexPapers(t *testing.T) {
	t.Run("accepts a JSON submission and sets the cookie", func(t *testing.T) {
		searcher := &stubSearcher{}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/index-papers", map[string]string{
			"scholar_url": "https://scholar.google.com/citations?user=abc",
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var body indexResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "submitted", body.Status)
		assert.Equal(t, "corr-123", body.CorrelationID)
		assert.Equal(t, "https://scholar.google.com/citations?user=abc", searcher.lastURL)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, LastIndexCookie, cookies[0].Name)
		assert.Equal(t, "corr-123", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("accepts a form submission", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := postForm(handler, "/index-papers", url.Values{
			"scholar_url": {"https://scholar.google.com/citations?user=xyz"},
		})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing scholar_url is a 400", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := postJSON(handler, "/index-papers", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "scholar_url is required", decodeError(t, rec))
	})

	t.Run("a timed out submission is a 504", func(t *testing.T) {
		searcher := &stubSearcher{err: &contracts.TimeoutError{
			Kind: contracts.KindSearch, CorrelationID: "corr-1", Timeout: time.Second,
		}}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/index-papers", map[string]string{"scholar_url": "https://x"})

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Contains(t, decodeError(t, rec), "timed out")
	})

	t.Run("an unreachable broker is a 502", func(t *testing.T) {
		searcher := &stubSearcher{err: &contracts.ConnectionError{
			Op: "publish search-request", Err: errors.New("broker unreachable"),
		}}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/index-papers", map[string]string{"scholar_url": "https://x"})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("anything else is a 500", func(t *testing.T) {
		searcher := &stubSearcher{err: errors.New("boom")}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/index-papers", map[string]string{"scholar_url": "https://x"})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("rejects GET", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})
		assert.Equal(t, http.StatusMethodNotAllowed, get(handler, "/index-papers").Code)
	})

	t.Run("a configured job trigger does not delay the response", func(t *testing.T) {
		trigger := dataproc.NewTrigger(dataproc.Settings{
			ProjectID:   "test-project",
			ClusterName: "test-cluster",
		}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
		handler := newTestServer(t, &stubSearcher{}, WithJobTrigger(trigger))

		start := time.Now()
		rec := postJSON(handler, "/index-papers", map[string]string{"scholar_url": "https://x"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestSearch(t *testing.T) {
	t.Run("serves the search page", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := get(handler, "/search")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "search-form")
	})

	t.Run("answers a term query with the result payload", func(t *testing.T) {
		searcher := &stubSearcher{}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/search", map[string]string{"term": "entanglement"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "entanglement", searcher.lastTerm)

		var result contracts.TermSearchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Len(t, result.Results, 1)
		assert.Equal(t, "A Paper", result.Results[0].DocName)
		assert.InDelta(t, 0.08, result.ExecutionTime, 1e-9)
	})

	t.Run("accepts a form-encoded term", func(t *testing.T) {
		searcher := &stubSearcher{}
		handler := newTestServer(t, searcher)

		rec := postForm(handler, "/search", url.Values{"term": {"gravity"}})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "gravity", searcher.lastTerm)
	})

	t.Run("empty term is a 400", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := postJSON(handler, "/search", map[string]string{"term": "   "})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("a timed out query is a 504", func(t *testing.T) {
		searcher := &stubSearcher{err: &contracts.TimeoutError{
			Kind: contracts.KindSearchTerm, CorrelationID: "corr-2", Timeout: time.Second,
		}}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/search", map[string]string{"term": "slow"})

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestTopN(t *testing.T) {
	t.Run("serves the top terms page", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := get(handler, "/topn")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "topn-form")
	})

	t.Run("accepts n as a JSON number", func(t *testing.T) {
		searcher := &stubSearcher{}
		handler := newTestServer(t, searcher)

		rec := postJSON(handler, "/topn", map[string]int{"n": 3})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, searcher.lastN)

		var result contracts.TopNResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Len(t, result.Results, 3)
	})

	t.Run("accepts n as a form value", func(t *testing.T) {
		searcher := &stubSearcher{}
		handler := newTestServer(t, searcher)

		rec := postForm(handler, "/topn", url.Values{"n": {"5"}})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, searcher.lastN)
	})

	t.Run("zero, negative, and non-numeric n are 400s", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		assert.Equal(t, http.StatusBadRequest, postJSON(handler, "/topn", map[string]int{"n": 0}).Code)
		assert.Equal(t, http.StatusBadRequest, postJSON(handler, "/topn", map[string]int{"n": -2}).Code)
		assert.Equal(t, http.StatusBadRequest, postForm(handler, "/topn", url.Values{"n": {"many"}}).Code)
		assert.Equal(t, http.StatusBadRequest, postJSON(handler, "/topn", map[string]string{}).Code)
	})
}

func TestHealthzRoute(t *testing.T) {
	t.Run("default liveness answer", func(t *testing.T) {
		handler := newTestServer(t, &stubSearcher{})

		rec := get(handler, "/healthz")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("wired health registry drives the status code", func(t *testing.T) {
		registry := health.NewRegistry()
		registry.Register(health.NewBrokerChecker(downReporter{}))
		handler := newTestServer(t, &stubSearcher{},
			WithHealthHandler(health.NewHandler(registry, time.Second)))

		rec := get(handler, "/healthz")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "broker connection is down")
	})
}

type downReporter struct{}

func (downReporter) IsConnected() bool { return false }

func TestMetricsRoute(t *testing.T) {
	handler := newTestServer(t, &stubSearcher{})

	rec := get(handler, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

// testWriter routes log output through the test log so it only shows
// on failure.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
