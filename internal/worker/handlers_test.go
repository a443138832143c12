package worker

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/hotspotd/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.WatchStore = false

	svc, err := NewService("test", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.store.Close() })
	return svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestCreateReport(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
		"content": "水管爆裂严重",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["uuid"])
	assert.Equal(t, float64(0), body["report_index"])
	assert.Equal(t, float64(0), body["cluster_id"])

	// A near-duplicate lands in the same cluster.
	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
		"content": "水管爆裂,导致大面积停水",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["report_index"])
	assert.Equal(t, float64(0), body["cluster_id"])
}

func TestCreateReportValidation(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
		"content": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/reports", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
		"content":     "水管爆裂",
		"reported_at": "yesterday at noon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimilarReports(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/reports/similar", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, content := range []string{"水管爆裂严重", "水管爆裂,导致大面积停水", "垃圾桶满了"} {
		rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{"content": content})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/reports/similar?q=水管爆裂&top_k=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "水管爆裂", body["query"])
	results, ok := body["results"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, results)

	// A query with no stored matches returns an empty array, not null.
	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/reports/similar?q=unrelatedtext", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	results, ok = body["results"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, results)
}

func TestResolveReport(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports/no-such-uuid/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{"content": "燃气泄漏风险"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["uuid"].(string)

	rec = doJSON(t, svc.Router(), http.MethodPost, fmt.Sprintf("/api/reports/%s/resolve", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The resolve triggered a reload, so the engine no longer sees the report.
	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total_reports"])
}

func TestHotspotsRanking(t *testing.T) {
	svc := newTestService(t)

	now := time.Now()
	for i := 0; i < 3; i++ {
		rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
			"content":     "水管爆裂严重",
			"reported_at": now.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
			"severity":    0.7,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{
		"content":     "垃圾桶满了，需要清理",
		"reported_at": now.Add(-20 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/hotspots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	ranking, ok := body["ranking"].([]interface{})
	require.True(t, ok)
	require.Len(t, ranking, 2)

	top := ranking[0].(map[string]interface{})
	assert.Equal(t, float64(1), top["rank"])
	assert.Equal(t, "水管爆裂严重", top["representative"])
	assert.Equal(t, float64(3), top["count"])
	assert.InDelta(t, 0.7, top["severity"].(float64), 0.0001)

	second := ranking[1].(map[string]interface{})
	assert.Greater(t, top["heat"].(float64), second["heat"].(float64))
	assert.Nil(t, second["severity"])

	stats, ok := body["statistics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4), stats["total_reports"])
}

func TestHotspotsTopK(t *testing.T) {
	svc := newTestService(t)

	for _, content := range []string{"水管爆裂严重", "垃圾桶满了", "路灯不亮"} {
		rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{"content": content})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/hotspots?top_k=1&refresh=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ranking := decodeBody(t, rec)["ranking"].([]interface{})
	assert.Len(t, ranking, 1)
}

func TestStatsAndReload(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["total_reports"])

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{"content": "下水道堵塞"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_reports"])
	assert.Equal(t, float64(1), body["total_clusters"])
}

func TestClustersEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/reports", map[string]interface{}{"content": "污水井盖破损"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/clusters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clusters, ok := decodeBody(t, rec)["clusters"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, clusters, 1)

	info := clusters["0"].(map[string]interface{})
	assert.Equal(t, "污水井盖破损", info["representative"])
	assert.Equal(t, float64(1), info["count"])
}

func TestOversizedBodyRejected(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reports", bytes.NewReader(make([]byte, MaxRequestBody+1)))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
