package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceExposesAuthCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordTokenIssued(TokenKindRefresh)
	m.RecordRefreshVerification(refreshRevoked)
	m.RecordRevocations(RevocationScopeAll, 2)
	m.RecordReaped(3)
	m.ObserveHTTPRequest(http.MethodPost, "/api/auth/login", http.StatusOK, 5*time.Millisecond)
	m.ObserveDBQuery("users.find_by_id", time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, `auth_tokens_issued_total{kind="refresh"} 1`)
	assert.Contains(t, body, `auth_refresh_verifications_total{result="revoked"} 1`)
	assert.Contains(t, body, `auth_refresh_revocations_total{scope="all"} 2`)
	assert.Contains(t, body, `auth_refresh_tokens_reaped_total 3`)
	assert.Contains(t, body, `cache_hit_ratio 1`)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordTokenIssued(TokenKindAccess)
	m.RecordRevocations(RevocationScopeSingle, 1)
	m.ObserveDBQuery("x", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
