package v1

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/drclabs/recall/engine"
)

func TestTenantScopeValidation(t *testing.T) {
	_, err := tenantFields{}.scope()
	require.Error(t, err)

	_, err = tenantFields{UserID: "alice"}.scope()
	require.Error(t, err, "project_id is required")

	scope, err := tenantFields{UserID: "alice", ProjectID: "notes"}.scope()
	require.NoError(t, err)
	require.Empty(t, scope.ConversationID)

	scope, err = tenantFields{UserID: "alice", ProjectID: "notes", ConversationID: "c1"}.scope()
	require.NoError(t, err)
	require.Equal(t, "c1", scope.ConversationID)
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{engine.ErrExtractionUnavailable, http.StatusBadRequest},
		{engine.ErrEmbeddingService, http.StatusServiceUnavailable},
		{engine.ErrVectorIndexUnavailable, http.StatusServiceUnavailable},
		{engine.ErrGraphStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		httpErr := engineError(tt.err)
		require.Equal(t, tt.code, httpErr.Code, "error %v", tt.err)
	}
}

func TestSearchRejectsMissingTenant(t *testing.T) {
	svc := &APIV1Service{}
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/search",
		strings.NewReader(`{"query": "anything"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := svc.SearchMemories(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := &APIV1Service{}
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/search",
		strings.NewReader(`{"user_id": "alice", "project_id": "notes"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := svc.SearchMemories(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestClearTenantRejectsMissingQueryParams(t *testing.T) {
	svc := &APIV1Service{}
	e := echo.New()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/memories", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := svc.ClearTenant(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}
