package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/crmrecall/internal/config"
	"github.com/hyperjump/crmrecall/internal/embedding"
	"github.com/hyperjump/crmrecall/internal/ingest"
	"github.com/hyperjump/crmrecall/internal/models"
	"github.com/hyperjump/crmrecall/internal/rolling"
	"github.com/hyperjump/crmrecall/internal/search"
	"github.com/hyperjump/crmrecall/internal/storage"
)

const testDim = 32

type testEnv struct {
	srv     *Server
	handler http.Handler
	index   *rolling.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Root = filepath.Join(dir, "shards")
	cfg.Storage.DatabasePath = filepath.Join(dir, "journal.db")
	cfg.Embedding.Dimensions = testDim

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	index, err := rolling.New(rolling.Options{Root: cfg.Storage.Root, MaxDays: cfg.Storage.MaxDays, Dimension: testDim},
		rolling.WithClock(func() time.Time { return time.Date(2024, 5, 2, 9, 30, 0, 0, time.Local) }))
	require.NoError(t, err)
	require.NoError(t, index.Open(context.Background()))

	emb := embedding.NewMockEmbedder(testDim)
	pipeline := ingest.NewPipeline(index, emb, ingest.WithJournal(journal))
	engine := search.NewEngine(index, emb, &cfg.Search)
	srv := NewServer(engine, index, pipeline, journal, cfg, zap.NewNop())
	return &testEnv{srv: srv, handler: srv.Routes(), index: index}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, env.index.Close())
	w = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIngestThenSearch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", map[string]any{
		"category": "deals",
		"tags":     map[string]any{"region": "emea"},
		"records": []map[string]any{
			{"account": "globex", "stage": "negotiation"},
			{"account": "initech", "stage": "closed won"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result models.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "2024-05-02", result.ShardDate)
	assert.NotEmpty(t, result.BatchID)

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "globex negotiation", Limit: 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, "deals", resp.Results[0].Category)
	assert.Equal(t, "emea", resp.Results[0].Tags["region"])
	assert.Equal(t, "2024-05-02", resp.Results[0].ShardDate)
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearch_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/search", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", map[string]any{"records": []map[string]any{{"a": 1}}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing category")

	w = env.do(t, http.MethodPost, "/api/v1/records", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty body")

	w = env.do(t, http.MethodPost, "/api/v1/records", `{"category":"x","records":[null]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "null record")
}

func TestStatusAndShards(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/records", map[string]any{
		"category": "contacts",
		"records":  []map[string]any{{"name": "ada"}, {"name": "grace"}, {"name": "alan"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, 3, status.TotalVectors)
	assert.Equal(t, 1, status.Batches)
	assert.Equal(t, 3, status.Records)
	assert.Equal(t, testDim, status.Dimension)
	assert.Positive(t, status.DiskBytes)

	w = env.do(t, http.MethodGet, "/api/v1/shards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var shards struct {
		Shards []models.ShardInfo `json:"shards"`
		Today  string             `json:"today"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&shards))
	assert.Equal(t, "2024-05-02", shards.Today)
	require.Len(t, shards.Shards, 1)
	assert.Equal(t, 3, shards.Shards[0].Vectors)
}

func TestClosedIndexIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.index.Close())

	w := env.do(t, http.MethodPost, "/api/v1/flush", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBatches(t *testing.T) {
	env := newTestEnv(t)
	for _, category := range []string{"contacts", "tickets"} {
		w := env.do(t, http.MethodPost, "/api/v1/records", map[string]any{
			"category": category,
			"records":  []map[string]any{{"subject": category}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/batches?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Batches []models.Batch `json:"batches"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Batches, 2)

	w = env.do(t, http.MethodGet, "/api/v1/batches/"+page.Batches[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var batch models.Batch
	require.NoError(t, json.NewDecoder(w.Body).Decode(&batch))
	assert.Equal(t, "2024-05-02", batch.ShardDate)
	assert.Equal(t, 1, batch.Count)

	w = env.do(t, http.MethodGet, "/api/v1/batches/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/batches?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/batches?offset=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_SaveFailureStillAccepted(t *testing.T) {
	env := newTestEnv(t)
	root := env.index.Root()
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, os.WriteFile(root, []byte("not a directory"), 0644))

	w := env.do(t, http.MethodPost, "/api/v1/records", map[string]any{
		"category": "tickets",
		"records":  []map[string]any{{"subject": "printer on fire"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result models.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, 1, result.Count)
	assert.NotEmpty(t, result.Warning)

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "printer on fire"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "tickets", resp.Results[0].Category)
}
