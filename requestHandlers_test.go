package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/middlewares"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(ready bool) *gin.Engine {
	a := newAPI(config.GetLogger())
	if ready {
		a.svc.Store(&services{})
	}
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	a.routes(r)
	return r
}

func TestWriteWorkflowError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"transition", &workflow.TransitionError{Reason: "edge does not exist"}, http.StatusConflict, "invalid_transition"},
		{"unauthorized", fmt.Errorf("%w: cancel", workflow.ErrUnauthorized), http.StatusForbidden, "unauthorized"},
		{"stock", &workflow.InsufficientStockError{Items: []workflow.Shortage{{ProductId: 1, Available: 13, Needed: 20}}}, http.StatusUnprocessableEntity, "insufficient_stock"},
		{"mismatch", &workflow.LedgerStockMismatchError{ProductId: 1, WarehouseId: 1, Short: 3}, http.StatusInternalServerError, "internal_error"},
		{"folio", workflow.ErrFolioCollision, http.StatusServiceUnavailable, "folio_collision"},
		{"fulfilled", workflow.ErrAlreadyFulfilled, http.StatusConflict, "already_fulfilled"},
		{"linkage", fmt.Errorf("%w: catalog window 3 does not exist", workflow.ErrMissingLinkage), http.StatusBadRequest, "missing_linkage"},
		{"payload", &workflow.PayloadError{Fields: map[string]string{"lines": "required"}}, http.StatusBadRequest, "invalid_payload"},
		{"not found", workflow.ErrRequestNotFound, http.StatusNotFound, "not_found"},
		{"storage", fmt.Errorf("%w: %w", workflow.ErrStorage, errors.New("dial tcp")), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeWorkflowError(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestWriteWorkflowError_MismatchDetailIsNotLeaked(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeWorkflowError(c, &workflow.LedgerStockMismatchError{ProductId: 77, WarehouseId: 5, Short: 3})

	assert.NotContains(t, w.Body.String(), "77")
	assert.NotContains(t, w.Body.String(), "mismatch")
}

func TestWriteWorkflowError_DuplicateExitReturnsExistingExit(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeWorkflowError(c, &workflow.DuplicateExitError{Exit: &models.Exit{ID: 4, Folio: "SAL-2024-000009"}})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Duplicate bool        `json:"duplicate"`
		Exit      models.Exit `json:"exit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Duplicate)
	assert.Equal(t, "SAL-2024-000009", body.Exit.Folio)
}

func TestRoutes_HealthzBypassesReadiness(t *testing.T) {
	r := newTestRouter(false)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get(middlewares.HeaderCorrelationId))
}

func TestRoutes_NotReadyReturns503(t *testing.T) {
	r := newTestRouter(false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/requests/1", nil)
	req.Header.Set(middlewares.HeaderUserId, "1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_MissingUserIsUnauthorized(t *testing.T) {
	r := newTestRouter(true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_LedgerAndAllocateRequireCapability(t *testing.T) {
	r := newTestRouter(true)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/requests/1/allocate"},
		{http.MethodPost, "/lots"},
		{http.MethodDelete, "/lots/3"},
		{http.MethodPost, "/catalog-windows"},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set(middlewares.HeaderUserId, "12")
		req.Header.Set(middlewares.HeaderGrantedTransitions, "approved, cancel")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRoutes_InvalidPathIdIsBadRequest(t *testing.T) {
	r := newTestRouter(true)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/requests/abc", nil)
	req.Header.Set(middlewares.HeaderUserId, "12")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_UnknownRoute(t *testing.T) {
	r := newTestRouter(true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitAndTrim(" https://a.example, ,https://b.example "))
	assert.Nil(t, splitAndTrim("  "))
}
