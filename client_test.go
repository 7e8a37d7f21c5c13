package scholardex

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/messaging"
)

// startResponder plays the processing backend on an in-memory broker:
// it consumes every request topic and answers each request on the
// matching response topic, echoing the correlation id back.
func startResponder(t *testing.T, broker *messaging.InMemoryBroker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	type route struct {
		requestTopic  string
		responseTopic string
		respond       func(correlationID string, body []byte) any
	}

	routes := []route{
		{"search-request", "search-response", func(id string, body []byte) any {
			ack := &contracts.SearchAck{}
			ack.SetCorrelationID(id)
			return ack
		}},
		{"search-term-request", "search-term-response", func(id string, body []byte) any {
			var req contracts.TermSearchRequest
			require.NoError(t, json.Unmarshal(body, &req))
			result := &contracts.TermSearchResult{
				Results: []contracts.ScoredDocument{
					{DocID: "doc-1", DocName: "Paper about " + req.Term, Citations: 12, Frequency: 3},
				},
				ExecutionTime: 0.042,
			}
			result.SetCorrelationID(id)
			return result
		}},
		{"topn-request", "topn-response", func(id string, body []byte) any {
			var req contracts.TopNRequest
			require.NoError(t, json.Unmarshal(body, &req))
			result := &contracts.TopNResult{}
			for i := 0; i < req.N; i++ {
				result.Results = append(result.Results, contracts.TermFrequency{
					Term:           string(rune('a' + i)),
					TotalFrequency: 100 - i,
				})
			}
			result.SetCorrelationID(id)
			return result
		}},
	}

	for _, r := range routes {
		requests, err := broker.Subscribe(ctx, r.requestTopic)
		require.NoError(t, err)

		wg.Add(1)
		go func(r route, requests <-chan []byte) {
			defer wg.Done()
			for body := range requests {
				var base contracts.BaseMessage
				if err := json.Unmarshal(body, &base); err != nil {
					continue
				}
				payload, err := json.Marshal(r.respond(base.CorrelationID, body))
				if err != nil {
					continue
				}
				_ = broker.Publish(ctx, r.responseTopic, payload)
			}
		}(r, requests)
	}
}

func newTestClient(t *testing.T, options ...ClientOption) (*Client, *messaging.InMemoryBroker) {
	t.Helper()

	broker := messaging.NewInMemoryBroker()
	options = append([]ClientOption{
		WithLogger(slog.New(slog.NewTextHandler(testWriter{t}, nil))),
	}, options...)

	client, err := NewClientWithBroker(broker, options...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, broker
}

func TestClient(t *testing.T) {
	t.Run("IndexPapers returns the acknowledgment for the run", func(t *testing.T) {
		client, broker := newTestClient(t)
		startResponder(t, broker)

		ack, err := client.IndexPapers(context.Background(), "https://scholar.google.com/citations?user=abc")
		require.NoError(t, err)
		assert.NotEmpty(t, ack.GetCorrelationID())
		assert.Equal(t, 0, client.PendingCount())
	})

	t.Run("SearchTerm returns ranked documents with timing", func(t *testing.T) {
		client, broker := newTestClient(t)
		startResponder(t, broker)

		result, err := client.SearchTerm(context.Background(), "entanglement")
		require.NoError(t, err)
		require.Len(t, result.Results, 1)
		assert.Equal(t, "Paper about entanglement", result.Results[0].DocName)
		assert.InDelta(t, 0.042, result.ExecutionTime, 1e-9)
	})

	t.Run("SearchTerm trims surrounding whitespace", func(t *testing.T) {
		client, broker := newTestClient(t)
		startResponder(t, broker)

		result, err := client.SearchTerm(context.Background(), "  gravity  ")
		require.NoError(t, err)
		require.Len(t, result.Results, 1)
		assert.Equal(t, "Paper about gravity", result.Results[0].DocName)
	})

	t.Run("TopTerms returns n entries", func(t *testing.T) {
		client, broker := newTestClient(t)
		startResponder(t, broker)

		result, err := client.TopTerms(context.Background(), 5)
		require.NoError(t, err)
		assert.Len(t, result.Results, 5)
	})

	t.Run("rejects invalid arguments without touching the broker", func(t *testing.T) {
		client, _ := newTestClient(t)

		_, err := client.IndexPapers(context.Background(), "   ")
		assert.Error(t, err)

		_, err = client.SearchTerm(context.Background(), "")
		assert.Error(t, err)

		_, err = client.TopTerms(context.Background(), 0)
		assert.Error(t, err)

		_, err = client.TopTerms(context.Background(), -3)
		assert.Error(t, err)
	})

	t.Run("an unanswered call times out with a typed error", func(t *testing.T) {
		client, _ := newTestClient(t, WithResponseTimeout(50*time.Millisecond))

		start := time.Now()
		_, err := client.SearchTerm(context.Background(), "unanswered")
		elapsed := time.Since(start)

		var timeoutErr *contracts.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, contracts.KindSearchTerm, timeoutErr.Kind)
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
		assert.Equal(t, 0, client.PendingCount())
	})

	t.Run("rejects a nil broker", func(t *testing.T) {
		_, err := NewClientWithBroker(nil)
		assert.Error(t, err)
	})

	t.Run("fails to assemble over a closed broker", func(t *testing.T) {
		broker := messaging.NewInMemoryBroker()
		require.NoError(t, broker.Close())

		_, err := NewClientWithBroker(broker)
		require.Error(t, err)
		assert.ErrorIs(t, err, messaging.ErrClosed)
	})

	t.Run("Close shuts the broker down", func(t *testing.T) {
		broker := messaging.NewInMemoryBroker()
		client, err := NewClientWithBroker(broker)
		require.NoError(t, err)

		require.NoError(t, client.Close())

		err = broker.Publish(context.Background(), "search-request", []byte("{}"))
		assert.ErrorIs(t, err, messaging.ErrClosed)
	})

	t.Run("concurrent calls of mixed kinds do not cross wires", func(t *testing.T) {
		client, broker := newTestClient(t)
		startResponder(t, broker)

		var wg sync.WaitGroup
		errs := make(chan error, 30)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := client.IndexPapers(context.Background(), "https://scholar.google.com/citations?user=x"); err != nil {
					errs <- err
				}
			}()
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := client.SearchTerm(context.Background(), "term")
				if err != nil {
					errs <- err
					return
				}
				if len(result.Results) != 1 {
					errs <- errors.New("unexpected result shape")
				}
			}(i)
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				n := 1 + i%4
				result, err := client.TopTerms(context.Background(), n)
				if err != nil {
					errs <- err
					return
				}
				if len(result.Results) != n {
					errs <- errors.New("top-n length does not match the request")
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("concurrent call failed: %v", err)
		}
		assert.Equal(t, 0, client.PendingCount())
	})
}

// testWriter routes log output through the test log so it only shows
// on failure.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
