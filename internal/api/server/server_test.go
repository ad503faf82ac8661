package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/api/middleware"
	"github.com/feral-file/ff-layer-indexer/internal/api/server"
	"github.com/feral-file/ff-layer-indexer/internal/api/shared/dto"
	apierrors "github.com/feral-file/ff-layer-indexer/internal/api/shared/errors"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/metrics"
	"github.com/feral-file/ff-layer-indexer/internal/mocks"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

const cursorName = "layer_projection"

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

func seededStore(t *testing.T) *store.MemoryStore {
	st := store.NewMemoryStore()
	err := st.Commit(context.Background(), store.ChangeSet{
		Upserts: []store.Record{
			{Kind: domain.EntityToken, ID: "6", Body: []byte(`{"id":"6","owner":"0x01"}`)},
			{Kind: domain.EntityUser, ID: "0x01", Body: []byte(`{"id":"0x01"}`)},
		},
		Appends: []store.Link{
			{Kind: domain.EntityToken, ID: "6", Relation: domain.RelationPastOwners, Target: "0x0a"},
			{Kind: domain.EntityToken, ID: "6", Relation: domain.RelationPastOwners, Target: "0x0b"},
			{Kind: domain.EntityToken, ID: "6", Relation: domain.RelationPastOwners, Target: "0x0a"},
		},
		Cursor: &store.CursorUpdate{Name: cursorName, Position: domain.Position{BlockNumber: 42, LogIndex: 7}},
	})
	require.NoError(t, err)
	return st
}

func newRouter(st store.Store) http.Handler {
	return server.New(server.Config{CursorName: cursorName}, st, metrics.New()).Router()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newRouter(store.NewMemoryStore()), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"ff-layer-indexer-api"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestGetEntity(t *testing.T) {
	h := newRouter(seededStore(t))

	rec := get(t, h, "/api/v1/entities/Token/6")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.EntityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.EntityToken, resp.Kind)
	assert.Equal(t, "6", resp.ID)
	assert.JSONEq(t, `{"id":"6","owner":"0x01"}`, string(resp.Data))
}

func TestGetEntity_Errors(t *testing.T) {
	h := newRouter(seededStore(t))

	tests := []struct {
		name   string
		path   string
		status int
		code   apierrors.ErrorCode
	}{
		{name: "unknown kind", path: "/api/v1/entities/Artwork/6", status: http.StatusBadRequest, code: apierrors.ErrCodeBadRequest},
		{name: "absent entity", path: "/api/v1/entities/Token/999", status: http.StatusNotFound, code: apierrors.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, tt.status, rec.Code)

			var apiErr apierrors.APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestGetLinks(t *testing.T) {
	h := newRouter(seededStore(t))

	tests := []struct {
		name    string
		query   string
		targets []string
	}{
		{name: "defaults keep append order and duplicates", query: "", targets: []string{"0x0a", "0x0b", "0x0a"}},
		{name: "page", query: "?limit=1&offset=1", targets: []string{"0x0b"}},
		{name: "offset past the end", query: "?offset=10", targets: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/v1/entities/Token/6/links/pastOwners"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp dto.LinksResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.targets, resp.Targets)
			assert.Equal(t, 3, resp.Total)
		})
	}
}

func TestGetLinks_Errors(t *testing.T) {
	h := newRouter(seededStore(t))

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "relation of another kind", path: "/api/v1/entities/Token/6/links/purchases", status: http.StatusBadRequest},
		{name: "negative offset", path: "/api/v1/entities/Token/6/links/pastOwners?offset=-1", status: http.StatusUnprocessableEntity},
		{name: "non numeric limit", path: "/api/v1/entities/Token/6/links/pastOwners?limit=ten", status: http.StatusUnprocessableEntity},
		{name: "absent entity", path: "/api/v1/entities/Token/7/links/pastOwners", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGetRun(t *testing.T) {
	st := seededStore(t)
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetRunState(context.Background(), cursorName, &store.RunState{
		RunID:     "01HX0000000000000000000000",
		Status:    store.RunStatusHalted,
		Position:  &domain.Position{BlockNumber: 43, LogIndex: 0},
		Kind:      domain.EventKindTransfer,
		Error:     "token not found",
		StartedAt: started,
		UpdatedAt: started,
	}))

	rec := get(t, newRouter(st), "/api/v1/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	assert.Equal(t, store.RunStatusHalted, resp.Run.Status)
	assert.Equal(t, domain.Position{BlockNumber: 43, LogIndex: 0}, *resp.Run.Position)
	require.NotNil(t, resp.Cursor)
	assert.Equal(t, domain.Position{BlockNumber: 42, LogIndex: 7}, *resp.Cursor)
}

func TestGetRun_BeforeFirstRun(t *testing.T) {
	rec := get(t, newRouter(store.NewMemoryStore()), "/api/v1/run")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().GetEntity(gomock.Any(), domain.EntityUser, "0x01").Return(nil, errors.New("connection refused"))

	rec := get(t, newRouter(st), "/api/v1/entities/User/0x01")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var apiErr apierrors.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, apierrors.ErrCodeDatabaseError, apiErr.Code)
}

func TestRequestID(t *testing.T) {
	h := newRouter(store.NewMemoryStore())

	id := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(middleware.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newRouter(seededStore(t))

	get(t, h, "/api/v1/entities/Token/6")
	rec := get(t, h, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
