package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logrca/internal/fault"
	"logrca/internal/retry"
)

func TestEmbedder_EmbedText(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     []float32
		wantKind fault.Kind
	}{
		{
			name:   "Native Shape",
			status: http.StatusOK,
			body:   `{"embedding":[0.1,0.2,0.3]}`,
			want:   []float32{0.1, 0.2, 0.3},
		},
		{
			name:   "Data List Shape",
			status: http.StatusOK,
			body:   `{"data":[{"embedding":[0.5,0.5]}]}`,
			want:   []float32{0.5, 0.5},
		},
		{
			name:     "Missing Embedding",
			status:   http.StatusOK,
			body:     `{"model":"nomic-embed-text"}`,
			wantKind: fault.KindParse,
		},
		{
			name:     "Malformed JSON",
			status:   http.StatusOK,
			body:     `{"embedding":`,
			wantKind: fault.KindParse,
		},
		{
			name:     "Model Not Found",
			status:   http.StatusNotFound,
			body:     `{"error":"model not found"}`,
			wantKind: fault.KindConfig,
		},
		{
			name:     "Server Error",
			status:   http.StatusInternalServerError,
			body:     `oops`,
			wantKind: fault.KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/embeddings", r.URL.Path)
				var req embedRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "nomic-embed-text", req.Model)
				assert.Equal(t, "hello", req.Prompt)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			e := NewEmbedder(ts.URL+"/", "nomic-embed-text", time.Second)
			vec, err := e.EmbedText(context.Background(), "hello")
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, vec)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, fault.KindOf(err))
		})
	}
}

func TestEmbedder_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	e := NewEmbedder(url, "m", time.Second)
	_, err := e.EmbedText(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNetwork))
}

func TestEmbedder_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[1]}`))
	}))
	defer ts.Close()

	e := NewEmbedder(ts.URL, "m", time.Second, WithRetry(retry.Config{Attempts: 2, Delay: time.Millisecond, MaxDelay: time.Millisecond}))
	vec, err := e.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbedder_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"embedding":[1]}`))
	}))
	defer ts.Close()

	e := NewEmbedder(ts.URL, "m", 20*time.Millisecond)
	_, err := e.EmbedText(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNetwork))
}
