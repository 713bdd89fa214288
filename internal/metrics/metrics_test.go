package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.ObserveIngest(20*time.Millisecond, 7)
	m.ObserveMerge(map[string]int{"added": 2, "deleted": 1})
	m.ObserveMerge(map[string]int{"added": 1})
	m.ObserveRefresh("changed")
	m.ObserveTypeChange("illegal")

	body := scrape(t, m)
	assert.Contains(t, body, "ipm_tree_nodes 7")
	assert.Contains(t, body, `ipm_merge_changes_total{status="added"} 3`)
	assert.Contains(t, body, `ipm_merge_changes_total{status="deleted"} 1`)
	assert.Contains(t, body, `ipm_refreshes_total{outcome="changed"} 1`)
	assert.Contains(t, body, `ipm_type_changes_total{outcome="illegal"} 1`)
	assert.Contains(t, body, "ipm_ingest_duration_seconds_count 1")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetTreeSize(3)

	assert.Contains(t, scrape(t, m), "ipm_tree_nodes 3")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest(time.Second, 1)
		m.ObserveMerge(map[string]int{"added": 1})
		m.ObserveRefresh("error")
		m.ObserveTypeChange("ok")
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
