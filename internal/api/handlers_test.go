package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperlens/paperlens/internal/analysis"
	"github.com/paperlens/paperlens/internal/cache"
	"github.com/paperlens/paperlens/internal/chat"
	"github.com/paperlens/paperlens/internal/index"
	"github.com/paperlens/paperlens/internal/llm"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/provider"
	"github.com/paperlens/paperlens/internal/review"
	"github.com/paperlens/paperlens/internal/task"
)

const testAnalysisJSON = `{
	"title": "Attention Is All You Need",
	"authors": ["Vaswani"],
	"abstract": "We propose the Transformer, a model architecture based entirely on attention.",
	"introduction": "Recurrent models preclude parallelization within training examples.",
	"methodology": "Multi-head scaled dot-product attention replaces recurrence entirely.",
	"results": "The model achieves 28.4 BLEU on WMT 2014 English-to-German translation."
}`

const testPaperHash = "deadbeefcafe0123"

// testProvider is what the pipeline needs from one backing model service.
type testProvider interface {
	provider.LLM
	provider.Embedder
}

// newTestServer stands up the full pipeline against a mock provider and a
// directory source seeded with one plain-text paper.
func newTestServer(t *testing.T, mockResponse string) (*httptest.Server, string) {
	t.Helper()
	mock := provider.NewMock(16)
	mock.Response = mockResponse
	return newTestServerWith(t, mock)
}

func newTestServerWith(t *testing.T, prov testProvider) (*httptest.Server, string) {
	t.Helper()

	dir := t.TempDir()
	body := strings.Repeat("The Transformer architecture relies on attention mechanisms. ", 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, testPaperHash+".pdf"), []byte(body), 0o644))
	paperID := "upload_" + testPaperHash

	store, err := cache.NewMemory(0)
	require.NoError(t, err)

	fast := llm.Tier{Name: "fast", Model: "fast-model", Timeout: time.Second, MaxRetries: 0, Backoff: time.Millisecond}
	deep := llm.Tier{Name: "deep", Model: "deep-model", Timeout: time.Second, MaxRetries: 0, Backoff: time.Millisecond}
	indexes := index.NewManager(prov, nil, 200, 20)

	deps := Deps{
		Source:   paper.NewDirSource(dir),
		Analyses: analysis.New(store, prov, fast, deep, "1", time.Hour),
		Chat:     chat.NewStreamer(indexes, prov, fast, 3, 0),
		Reviews:  review.NewSynthesizer(indexes, prov, deep, store, "1", time.Hour, 2),
		Tasks:    task.NewTracker(context.Background()),
	}

	srv := httptest.NewServer(NewHandler(deps))
	t.Cleanup(srv.Close)
	return srv, paperID
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testAnalysisJSON)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decodeBody[map[string]string](t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, paperID := newTestServer(t, testAnalysisJSON)

	resp, err := http.Post(srv.URL+"/analysis/"+paperID, "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[analysis.Record](t, resp)
	require.Equal(t, "Attention Is All You Need", rec.Fast.Title)
	require.Equal(t, paperID, rec.Paper.PaperID)
	require.Nil(t, rec.Deep)

	// The generated analysis is now retrievable.
	resp, err = http.Get(srv.URL + "/analysis/" + paperID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cached := decodeBody[analysis.Record](t, resp)
	require.Equal(t, rec.Fast.Title, cached.Fast.Title)
}

func TestGetAnalysisBeforeAnalyze(t *testing.T) {
	srv, paperID := newTestServer(t, testAnalysisJSON)

	resp, err := http.Get(srv.URL + "/analysis/" + paperID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]map[string]string](t, resp)
	require.Equal(t, "not_found", body["error"]["type"])
}

func TestAnalyzeUnknownPaper(t *testing.T) {
	srv, _ := newTestServer(t, testAnalysisJSON)

	for _, id := range []string{"upload_ffffffffffffffff", "not-a-valid-id"} {
		resp, err := http.Post(srv.URL+"/analysis/"+id, "application/json", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, "id %s", id)
		resp.Body.Close()
	}
}

func TestDeepenEndpoint(t *testing.T) {
	srv, paperID := newTestServer(t, testAnalysisJSON)

	resp, err := http.Post(srv.URL+"/analysis/"+paperID+"/deep", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[analysis.Record](t, resp)
	require.NotNil(t, rec.Deep)
	require.NotEmpty(t, rec.Deep.Methodology)
	require.Equal(t, "Attention Is All You Need", rec.Fast.Title)
}

func TestChatStreamsSSE(t *testing.T) {
	srv, paperID := newTestServer(t, "the answer involves attention")

	resp := postJSON(t, srv.URL+"/papers/"+paperID+"/chat", map[string]any{
		"question": "What mechanism does the model use?",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)

	lines := strings.Split(strings.TrimSpace(body), "\n\n")
	require.NotEmpty(t, lines)
	require.Contains(t, lines[0], `"context_free":false`)
	require.Equal(t, "data: [DONE]", lines[len(lines)-1])
	require.Contains(t, body, `"token"`)
}

// brokenStreamLLM serves a token and then drops the connection, both
// mid-stream and on every establishment attempt after the first.
type brokenStreamLLM struct {
	*provider.Mock
}

func (b *brokenStreamLLM) GenerateStream(ctx context.Context, req provider.GenerateRequest) (<-chan provider.StreamChunk, error) {
	out := make(chan provider.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range []provider.StreamChunk{
			{Text: "partial "},
			{Err: errors.New("connection reset by provider")},
		} {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestChatMidStreamFailureReportsError(t *testing.T) {
	srv, paperID := newTestServerWith(t, &brokenStreamLLM{Mock: provider.NewMock(16)})

	resp := postJSON(t, srv.URL+"/papers/"+paperID+"/chat", map[string]any{
		"question": "What mechanism does the model use?",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)

	require.Contains(t, body, `"token":"partial "`)
	require.Contains(t, body, `"error"`)
	require.NotContains(t, body, "connection reset", "provider detail must stay in logs")

	// The error event precedes the end marker.
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	require.GreaterOrEqual(t, len(events), 4)
	require.Contains(t, events[len(events)-2], `"error"`)
	require.Equal(t, "data: [DONE]", events[len(events)-1])
}

func TestChatRequestValidation(t *testing.T) {
	srv, paperID := newTestServer(t, "answer")

	resp := postJSON(t, srv.URL+"/papers/"+paperID+"/chat", map[string]any{"history": []any{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	r, err := http.Post(srv.URL+"/papers/"+paperID+"/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, r.StatusCode)
	r.Body.Close()
}

func TestReviewLifecycle(t *testing.T) {
	srv, paperID := newTestServer(t, "A survey of attention mechanisms, grounded in [1].")

	resp := postJSON(t, srv.URL+"/review/generate", map[string]any{
		"topic":     "attention mechanisms",
		"paper_ids": []string{paperID},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeBody[map[string]string](t, resp)
	taskID := accepted["task_id"]
	require.NotEmpty(t, taskID)

	var snap task.Snapshot
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(srv.URL + "/tasks/" + taskID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, r.StatusCode)
		snap = decodeBody[task.Snapshot](t, r)
		if snap.Status.Terminal() {
			break
		}
		require.True(t, time.Now().Before(deadline), "task did not finish, status %s", snap.Status)
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, task.StatusCompleted, snap.Status)

	result, ok := snap.Result.(map[string]any)
	require.True(t, ok, "result is %T", snap.Result)
	require.NotEmpty(t, result["review"])
	citations, ok := result["citations"].([]any)
	require.True(t, ok)
	require.Len(t, citations, 1)

	// Cancelling a finished task conflicts.
	r, err := http.Post(srv.URL+"/tasks/"+taskID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, r.StatusCode)
	r.Body.Close()
}

func TestReviewValidation(t *testing.T) {
	srv, paperID := newTestServer(t, "review text")

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing topic", map[string]any{"paper_ids": []string{paperID}}, http.StatusBadRequest},
		{"missing papers", map[string]any{"topic": "x"}, http.StatusBadRequest},
		{"unknown paper", map[string]any{"topic": "x", "paper_ids": []string{"upload_ffffffffffffffff"}}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/review/generate", tc.body)
			require.Equal(t, tc.code, resp.StatusCode)
			resp.Body.Close()
		})
	}

	many := make([]string, review.MaxPapers+1)
	for i := range many {
		many[i] = paperID
	}
	resp := postJSON(t, srv.URL+"/review/generate", map[string]any{"topic": "x", "paper_ids": many})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTaskEndpointsUnknownID(t *testing.T) {
	srv, _ := newTestServer(t, "x")

	r, err := http.Get(srv.URL + "/tasks/no-such-task")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()

	r, err = http.Post(srv.URL+"/tasks/no-such-task/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()
}
