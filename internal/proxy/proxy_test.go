package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	byProjectID map[string]*CachedNodeProject
}

func (f *fakeResolver) GetCachedNodeProject(_ context.Context, remoteProjectID string) (*CachedNodeProject, error) {
	return f.byProjectID[remoteProjectID], nil
}

func TestServeHTTPForwardsToOnlineNode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Forwarded-Ok", "1")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	url := upstream.URL

	rt := &Router{
		Resolver: &fakeResolver{byProjectID: map[string]*CachedNodeProject{
			"proj-1": {NodeStatus: "online", NodePublicURL: &url},
		}},
		ResolveProjectID: func(_ context.Context, sharedTaskID string) (string, error) {
			require.Equal(t, "task-1", sharedTaskID)
			return "proj-1", nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/task-1/some/path", nil)
	req.URL.Path = "task-1/some/path"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Forwarded-Ok"))
}

func TestServeHTTPRejectsOfflineNode(t *testing.T) {
	url := "http://127.0.0.1:0"
	rt := &Router{
		Resolver: &fakeResolver{byProjectID: map[string]*CachedNodeProject{
			"proj-1": {NodeStatus: "offline", NodePublicURL: &url},
		}},
		ResolveProjectID: func(_ context.Context, _ string) (string, error) { return "proj-1", nil },
	}

	req := httptest.NewRequest(http.MethodGet, "/task-1/x", nil)
	req.URL.Path = "task-1/x"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServeHTTPRejectsMissingSharedTaskID(t *testing.T) {
	rt := &Router{
		ResolveProjectID: func(_ context.Context, _ string) (string, error) { return "", nil },
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = ""
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPRejectsUnknownNode(t *testing.T) {
	rt := &Router{
		Resolver: &fakeResolver{byProjectID: map[string]*CachedNodeProject{}},
		ResolveProjectID: func(_ context.Context, _ string) (string, error) { return "proj-missing", nil },
	}

	req := httptest.NewRequest(http.MethodGet, "/task-1/x", nil)
	req.URL.Path = "task-1/x"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}
