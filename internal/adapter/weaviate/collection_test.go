package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "logrca/internal/adapter/weaviate"
	"logrca/internal/fault"
	"logrca/internal/vector"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *weaviate.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return client
}

func TestCollection_ClassName(t *testing.T) {
	c := adapter.NewCollection(mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {}), "log_context")
	assert.Equal(t, "LogContext", c.ClassName())
	assert.Equal(t, "log_context", c.Name())
}

func TestCollection_Upsert(t *testing.T) {
	var got []map[string]interface{}
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.Objects

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "1", "result": map[string]interface{}{}}})
	})

	c := adapter.NewCollection(client, "log_context")
	err := c.Upsert(context.Background(), []vector.Record{{
		ID:       "abc",
		Vector:   []float32{0.1, 0.2},
		Document: "File: A.java",
		Metadata: map[string]string{"file": "A.java", "range": "0-3"},
	}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "LogContext", got[0]["class"])
	props := got[0]["properties"].(map[string]interface{})
	assert.Equal(t, "File: A.java", props["document"])
	assert.Equal(t, "abc", props["snippetId"])
	assert.Equal(t, "0-3", props["range"])
	assert.Len(t, got[0]["vector"], 2)
	assert.NotEmpty(t, got[0]["id"])
}

func TestCollection_UpsertDeterministicIDs(t *testing.T) {
	var ids []string
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		ids = append(ids, body.Objects[0]["id"].(string))
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	})

	c := adapter.NewCollection(client, "log_context")
	rec := []vector.Record{{ID: "same", Vector: []float32{1}}}
	require.NoError(t, c.Upsert(context.Background(), rec))
	require.NoError(t, c.Upsert(context.Background(), rec))
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}

func TestCollection_UpsertDimensionMismatch(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{{
			"id": "1",
			"result": map[string]interface{}{
				"errors": map[string]interface{}{
					"error": []map[string]interface{}{
						{"message": "new node has a vector with length 768. Existing nodes have vectors with length 384"},
					},
				},
			},
		}})
	})

	c := adapter.NewCollection(client, "log_context")
	err := c.Upsert(context.Background(), []vector.Record{{ID: "a", Vector: make([]float32, 768)}})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindDimension))
	assert.ErrorIs(t, err, fault.ErrDimensionMismatch)
}

func TestCollection_Query(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["query"], "nearVector")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"LogContext": []interface{}{
						map[string]interface{}{
							"document":    "ctx one",
							"snippetId":   "s1",
							"file":        "A.java",
							"range":       "0-5",
							"_additional": map[string]interface{}{"distance": 0.12},
						},
						map[string]interface{}{
							"document":    "ctx two",
							"snippetId":   "s2",
							"_additional": map[string]interface{}{"distance": 0.4},
						},
					},
				},
			},
		})
	})

	c := adapter.NewCollection(client, "log_context")
	groups, err := c.Query(context.Background(), [][]float32{{0.1, 0.2}}, 2)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	assert.Equal(t, "ctx one", groups[0][0].Document)
	assert.Equal(t, "s1", groups[0][0].ID)
	assert.Equal(t, "A.java", groups[0][0].Metadata["file"])
	assert.InDelta(t, 0.12, groups[0][0].Distance, 1e-6)
}

func TestCollection_QueryGraphQLErrors(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantKind  fault.Kind
		wantEmpty bool
	}{
		{"Dimension", "vector lengths don't match: 384 vs 768", fault.KindDimension, false},
		{"Missing Class", `Cannot query field "LogContext" on type "GetObjectsObj".`, 0, true},
		{"Other", "something broke", fault.KindIO, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"errors": []map[string]interface{}{{"message": tt.message}},
				})
			})
			c := adapter.NewCollection(client, "log_context")
			groups, err := c.Query(context.Background(), [][]float32{{1}}, 3)
			if tt.wantEmpty {
				require.NoError(t, err)
				assert.Equal(t, [][]vector.Hit{{}}, groups)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, fault.KindOf(err))
		})
	}
}

func TestCollection_Reset(t *testing.T) {
	var calls []string
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == "DELETE":
			w.WriteHeader(http.StatusOK)
		case r.Method == "GET" && r.URL.Path == "/v1/schema/LogContext":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == "POST" && r.URL.Path == "/v1/schema":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"class":"LogContext"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	c := adapter.NewCollection(client, "log_context")
	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, []string{
		"DELETE /v1/schema/LogContext",
		"GET /v1/schema/LogContext",
		"POST /v1/schema",
	}, calls)
}

func TestCollection_Count(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"LogContext": []interface{}{
						map[string]interface{}{"meta": map[string]interface{}{"count": 42}},
					},
				},
			},
		})
	})

	c := adapter.NewCollection(client, "log_context")
	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
