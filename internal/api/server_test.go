package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/feedsub-go/internal/api"
	"github.com/vrsandeep/feedsub-go/internal/core"
	"github.com/vrsandeep/feedsub-go/internal/testutil"
)

// doJSON performs a request as the trusted test user.
func doJSON(t *testing.T, s *api.Server, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(testutil.TrustedUserID, 10))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

// waitForFetchDone polls until the link's fetch has finished.
func waitForFetchDone(t *testing.T, app *core.App, link string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entry := app.Subs().EntryForLink(link)
		if entry != nil && entry.Base().ActiveFetch() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("fetch did not finish in time")
}

func TestGetVersion(t *testing.T) {
	server, _, _ := testutil.SetupTestServer(t, nil)
	req := httptest.NewRequest("GET", "/api/version", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, core.Version, body["version"])
}

func TestTrustMiddleware(t *testing.T) {
	server, _, _ := testutil.SetupTestServer(t, nil)

	t.Run("no header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/downloads", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/downloads", nil)
		req.Header.Set("X-User-ID", "not-a-number")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("untrusted user", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/downloads", nil)
		req.Header.Set("X-User-ID", "666")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("trusted user", func(t *testing.T) {
		rr := doJSON(t, server, "GET", "/api/downloads", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestCreateAndListDownloads(t *testing.T) {
	fetcher := &testutil.FakeFetcher{Lines: []string{"a.jpg"}, WriteFiles: true}
	server, app, _ := testutil.SetupTestServer(t, fetcher)

	rr := doJSON(t, server, "POST", "/api/downloads", map[string]interface{}{
		"link": "https://example.com/feed",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	waitForFetchDone(t, app, "https://example.com/feed")

	rr = doJSON(t, server, "GET", "/api/downloads", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var infos []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "https://example.com/feed", infos[0]["link"])
	assert.Equal(t, float64(1), infos[0]["item_count"])
}

func TestCreateDownload_BadPayload(t *testing.T) {
	server, _, _ := testutil.SetupTestServer(t, nil)
	rr := doJSON(t, server, "POST", "/api/downloads", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteDownload(t *testing.T) {
	fetcher := &testutil.FakeFetcher{Lines: []string{"a.jpg"}}
	server, app, _ := testutil.SetupTestServer(t, fetcher)

	rr := doJSON(t, server, "POST", "/api/downloads", map[string]interface{}{
		"link": "https://example.com/feed",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitForFetchDone(t, app, "https://example.com/feed")

	rr = doJSON(t, server, "DELETE", "/api/downloads?link=https%3A%2F%2Fexample.com%2Ffeed", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, server, "GET", "/api/downloads", nil)
	var infos []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	assert.Empty(t, infos)

	rr = doJSON(t, server, "DELETE", "/api/downloads?link=https%3A%2F%2Fexample.com%2Ffeed", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDownloadArchive(t *testing.T) {
	fetcher := &testutil.FakeFetcher{Lines: []string{"a.jpg", "b.jpg"}, WriteFiles: true}
	server, app, _ := testutil.SetupTestServer(t, fetcher)

	rr := doJSON(t, server, "POST", "/api/downloads", map[string]interface{}{
		"link": "https://example.com/feed",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitForFetchDone(t, app, "https://example.com/feed")

	rr = doJSON(t, server, "GET", "/api/downloads/archive?link=https%3A%2F%2Fexample.com%2Ffeed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-Archive-Parts"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), ".zip")
	// A zip file starts with the local file header signature.
	assert.Equal(t, []byte{'P', 'K'}, rr.Body.Bytes()[:2])

	rr = doJSON(t, server, "GET", "/api/downloads/archive?link=https%3A%2F%2Fexample.com%2Ffeed&part=5", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	fetcher := &testutil.FakeFetcher{}
	server, app, _ := testutil.SetupTestServer(t, fetcher)

	rr := doJSON(t, server, "POST", "/api/subscriptions", map[string]interface{}{
		"link":    "https://example.com/feed",
		"chat_id": 100,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	waitForFetchDone(t, app, "https://example.com/feed")

	// Subscribing the same chat again conflicts.
	rr = doJSON(t, server, "POST", "/api/subscriptions", map[string]interface{}{
		"link":    "https://example.com/feed",
		"chat_id": 100,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, server, "GET", "/api/subscriptions?chat_id=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "https://example.com/feed", views[0]["link"])
	assert.Equal(t, false, views[0]["paused"])

	rr = doJSON(t, server, "POST", "/api/subscriptions/pause", map[string]interface{}{
		"link":    "https://example.com/feed",
		"chat_id": 100,
		"paused":  true,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, server, "GET", "/api/subscriptions?chat_id=100", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	assert.Equal(t, true, views[0]["paused"])

	rr = doJSON(t, server, "DELETE", "/api/subscriptions?link=https%3A%2F%2Fexample.com%2Ffeed&chat_id=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, app.Subs().Subscriptions())

	rr = doJSON(t, server, "DELETE", "/api/subscriptions?link=https%3A%2F%2Fexample.com%2Ffeed&chat_id=100", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobsEndpoints(t *testing.T) {
	server, _, _ := testutil.SetupTestServer(t, nil)

	rr := doJSON(t, server, "GET", "/api/jobs/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var statuses []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &statuses))
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s["name"].(string))
	}
	assert.Contains(t, names, "tool-update")
	assert.Contains(t, names, "prune-downloads")

	rr = doJSON(t, server, "POST", "/api/jobs/run", map[string]string{"job_name": "prune-downloads"})
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = doJSON(t, server, "POST", "/api/jobs/run", map[string]string{"job_name": "no-such-job"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	fetcher := &testutil.FakeFetcher{Lines: []string{"a.jpg"}}
	server, app, _ := testutil.SetupTestServer(t, fetcher)

	rr := doJSON(t, server, "POST", "/api/downloads", map[string]interface{}{
		"link": "https://example.com/feed",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitForFetchDone(t, app, "https://example.com/feed")

	rr = doJSON(t, server, "GET", "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snapshot map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot["fetches_started"])
}
