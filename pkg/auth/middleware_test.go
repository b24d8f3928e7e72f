package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *JWTService) {
	gin.SetMode(gin.TestMode)
	svc, err := NewJWTService("test-secret-value", 0)
	require.NoError(t, err)

	mw := NewMiddleware(svc)
	r := gin.New()
	r.GET("/runs/:scheduleId", mw.RequireScheduleAccess(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r, svc
}

func TestRequireScheduleAccessRejectsMissingToken(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/runs/SCHED1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireScheduleAccessRejectsInvalidToken(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/runs/SCHED1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireScheduleAccessRejectsWrongScope(t *testing.T) {
	r, svc := newTestRouter(t)
	token, _, err := svc.IssueToken("SCHED2")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/SCHED1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireScheduleAccessAllowsMatchingScope(t *testing.T) {
	r, svc := newTestRouter(t)
	token, _, err := svc.IssueToken("SCHED1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/SCHED1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireScheduleAccessAllowsWildcardScope(t *testing.T) {
	r, svc := newTestRouter(t)
	token, _, err := svc.IssueToken("")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/ANYTHING", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractTokenFallsBackToQueryParam(t *testing.T) {
	r, svc := newTestRouter(t)
	token, _, err := svc.IssueToken("SCHED1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/SCHED1?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
