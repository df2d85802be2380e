package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"docembed/internal/service"
	"docembed/internal/service/mocks"
	"docembed/internal/storage"
	vectorstore_mocks "docembed/internal/vectorstore/mocks"
)

func newTestRouter(t *testing.T) (http.Handler, *mocks.MockIngestService, *vectorstore_mocks.MockStore) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockIngestService(ctrl)
	store := vectorstore_mocks.NewMockStore(ctrl)
	router := NewRouter(&Deps{IngestService: svc, VectorStore: store, Collection: "books"})
	return router, svc, store
}

func TestNewRouter(t *testing.T) {
	router, _, _ := newTestRouter(t)
	if router == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Routes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(svc *mocks.MockIngestService, store *vectorstore_mocks.MockStore)
		wantStatus int
	}{
		{
			name:       "POST /api/ingest exists",
			method:     http.MethodPost,
			path:       "/api/ingest",
			body:       "not json",
			wantStatus: http.StatusBadRequest, // Bad request due to invalid body, but route exists
		},
		{
			name:       "GET /api/ingest method not allowed",
			method:     http.MethodGet,
			path:       "/api/ingest",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:   "GET /api/progress",
			method: http.MethodGet,
			path:   "/api/progress?source=a.md",
			setup: func(svc *mocks.MockIngestService, _ *vectorstore_mocks.MockStore) {
				svc.EXPECT().Progress(gomock.Any(), service.ProgressRequest{Source: "a.md"}).
					Return(&service.Progress{Source: "a.md", Collection: "books"}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "GET /api/runs",
			method: http.MethodGet,
			path:   "/api/runs",
			setup: func(svc *mocks.MockIngestService, _ *vectorstore_mocks.MockStore) {
				svc.EXPECT().Runs(gomock.Any(), 0).Return([]storage.Run{}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "POST /api/search exists",
			method:     http.MethodPost,
			path:       "/api/search",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "GET /api/health",
			method: http.MethodGet,
			path:   "/api/health",
			setup: func(_ *mocks.MockIngestService, store *vectorstore_mocks.MockStore) {
				store.EXPECT().CollectionExists(gomock.Any(), "books").Return(true, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/api/chat",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, svc, store := newTestRouter(t)
			if tt.setup != nil {
				tt.setup(svc, store)
			}

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Router %s %s status = %v, want %v", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_MiddlewareApplied(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// Check CORS headers are present
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Router should apply CORS middleware")
	}
}
