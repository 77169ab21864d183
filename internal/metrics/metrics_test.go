package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/models"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.ObserveBuild("global", time.Second, nil)
	m.ObserveBuild("global", time.Second, errors.New("boom"))
	m.ObserveAnswer("global", "complete", 2*time.Second)
	m.Degraded(models.KindExpansion)
	m.SetLiveScopes(3)

	body := scrape(t, m)
	for _, line := range []string{
		`kotae_index_builds_total{result="ok",scope="global"} 1`,
		`kotae_index_builds_total{result="error",scope="global"} 1`,
		`kotae_questions_total{outcome="complete",scope="global"} 1`,
		`kotae_degraded_total{kind="expansion"} 1`,
		`kotae_live_scopes 3`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveAnswer("project-7", "partial", time.Second)
	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `kotae_questions_total{outcome="partial",scope="project-7"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBuild("global", time.Second, nil)
	m.ObserveAnswer("global", "error", time.Second)
	m.Degraded(models.KindEmbedding)
	m.SetLiveScopes(1)
	assert.Nil(t, m.Registry())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
