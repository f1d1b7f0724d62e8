package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyr/conveyr/pkg/web"
)

// fakeGateway is a minimal in-memory worker gateway. It hands out each
// queued job once and records completions and failures.
type fakeGateway struct {
	mu          sync.Mutex
	pending     []web.ActivatedJob
	completions map[string]web.CompleteJobRequest
	failures    map[string]web.FailJobRequest
	problemType string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		completions: make(map[string]web.CompleteJobRequest),
		failures:    make(map[string]web.FailJobRequest),
	}
}

func (g *fakeGateway) push(job web.ActivatedJob) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = append(g.pending, job)
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs/activate", func(w http.ResponseWriter, r *http.Request) {
		var req web.ActivateJobsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		jobs := g.pending
		g.pending = nil
		g.mu.Unlock()

		if jobs == nil {
			jobs = []web.ActivatedJob{}
		}

		_ = json.NewEncoder(w).Encode(web.ActivateJobsResponse{Jobs: jobs})
	})

	mux.HandleFunc("POST /jobs/{key}/complete", func(w http.ResponseWriter, r *http.Request) {
		if g.writeProblem(w) {
			return
		}

		var req web.CompleteJobRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		g.completions[r.PathValue("key")] = req
		g.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /jobs/{key}/fail", func(w http.ResponseWriter, r *http.Request) {
		var req web.FailJobRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		g.mu.Lock()
		g.failures[r.PathValue("key")] = req
		g.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (g *fakeGateway) writeProblem(w http.ResponseWriter) bool {
	g.mu.Lock()
	problemType := g.problemType
	g.mu.Unlock()

	if problemType == "" {
		return false
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{"type": problemType})

	return true
}

func (g *fakeGateway) completion(key string) (web.CompleteJobRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.completions[key]

	return req, ok
}

func (g *fakeGateway) failure(key string) (web.FailJobRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.failures[key]

	return req, ok
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestClientActivateJobs(t *testing.T) {
	gateway := newFakeGateway()
	gateway.push(web.ActivatedJob{
		JobKey:    "j1",
		TaskType:  "charge-credit-card",
		Retries:   3,
		Variables: map[string]any{"total": float64(100)},
	})

	server := httptest.NewServer(gateway.handler())
	defer server.Close()

	client := NewClient(server.URL, nil)

	jobs, err := client.ActivateJobs(context.Background(), web.ActivateJobsRequest{
		TaskType: "charge-credit-card",
		WorkerID: "w1",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].JobKey)
	assert.Equal(t, float64(100), jobs[0].Variables["total"])
}

func TestClientMapsProblemTypes(t *testing.T) {
	tests := []struct {
		name        string
		problemType string
		expected    error
	}{
		{name: "lease expired", problemType: "lease_expired", expected: ErrLeaseExpired},
		{name: "instance cancelled", problemType: "instance_cancelled", expected: ErrInstanceCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := newFakeGateway()
			gateway.problemType = tt.problemType

			server := httptest.NewServer(gateway.handler())
			defer server.Close()

			client := NewClient(server.URL, nil)

			err := client.CompleteJob(context.Background(), "j1", "w1", nil)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(server.URL, nil)

	err := client.CompleteJob(context.Background(), "missing", "w1", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkerRejectsDuplicateHandlers(t *testing.T) {
	w := NewWorker(NewClient("http://localhost:9190", nil), "w1", testLogger())

	handler := func(_ context.Context, _ web.ActivatedJob) (map[string]any, error) {
		return nil, nil
	}

	require.NoError(t, w.RegisterHandler("charge", handler))
	assert.Error(t, w.RegisterHandler("charge", handler))
}

func TestWorkerCompletesJobs(t *testing.T) {
	gateway := newFakeGateway()
	gateway.push(web.ActivatedJob{
		JobKey:    "j1",
		TaskType:  "charge-credit-card",
		Retries:   3,
		Variables: map[string]any{"total": float64(100)},
	})

	server := httptest.NewServer(gateway.handler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(NewClient(server.URL, nil), "w1", testLogger())

	done := make(chan struct{})

	err := w.RegisterHandler("charge-credit-card", func(_ context.Context, job web.ActivatedJob) (map[string]any, error) {
		defer close(done)

		total := job.Variables["total"].(float64)

		return map[string]any{"amountCharged": total}, nil
	})
	require.NoError(t, err)

	go w.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	// The completion is reported asynchronously after the handler returns.
	require.Eventually(t, func() bool {
		_, ok := gateway.completion("j1")

		return ok
	}, 5*time.Second, 10*time.Millisecond)

	completion, _ := gateway.completion("j1")
	assert.Equal(t, "w1", completion.WorkerID)
	assert.Equal(t, float64(100), completion.Variables["amountCharged"])
}

func TestWorkerFailsJobsWithDecrementedRetries(t *testing.T) {
	gateway := newFakeGateway()
	gateway.push(web.ActivatedJob{
		JobKey:   "j1",
		TaskType: "charge-credit-card",
		Retries:  3,
	})

	server := httptest.NewServer(gateway.handler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(NewClient(server.URL, nil), "w1", testLogger())

	err := w.RegisterHandler("charge-credit-card", func(_ context.Context, _ web.ActivatedJob) (map[string]any, error) {
		return nil, errors.New("card declined")
	})
	require.NoError(t, err)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := gateway.failure("j1")

		return ok
	}, 5*time.Second, 10*time.Millisecond)

	failure, _ := gateway.failure("j1")
	assert.Equal(t, "w1", failure.WorkerID)
	assert.Equal(t, 2, failure.Retries)
	assert.Equal(t, "card declined", failure.ErrorMessage)
}
