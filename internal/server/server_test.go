package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/playstore"
	"github.com/podplayr/media-engine/pkg/config"
)

// newTestServer builds a fully wired server on a temp play store and
// exposes it through httptest.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Store.Directory = t.TempDir()

	store, err := playstore.NewStore(&cfg.Store, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(cfg, store, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func decodeResponse(t *testing.T, resp *http.Response, data interface{}) APIResponse {
	t.Helper()

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var api APIResponse
	require.NoError(t, json.Unmarshal(raw, &api))
	if data != nil && api.Data != nil {
		encoded, err := json.Marshal(api.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(encoded, data))
	}
	return api
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func queueTracks(n int) []media.Track {
	tracks := make([]media.Track, n)
	for i := range tracks {
		tracks[i] = media.Track{
			Contract: "0xabc",
			TokenID:  fmt.Sprintf("%d", i),
			Name:     fmt.Sprintf("Track %d", i),
			Audio:    fmt.Sprintf("ipfs://QmAudio%047d", i),
		}
	}
	return tracks
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)

	api := decodeResponse(t, resp, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, api.Success)
}

func TestResolveEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	resp, err := http.Get(ts.URL + "/api/resolve?url=ipfs://" + cid + "&candidates=true")
	require.NoError(t, err)

	var result ResolveResult
	api := decodeResponse(t, resp, &result)
	require.True(t, api.Success)
	assert.Equal(t, "https://ipfs.io/ipfs/"+cid, result.Resolved)
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, result.Resolved, result.Candidates[0])
}

func TestResolveMobileQueryParameter(t *testing.T) {
	_, ts := newTestServer(t)

	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	resp, err := http.Get(ts.URL + "/api/resolve?url=ipfs://" + cid + "&mobile=true")
	require.NoError(t, err)

	var result ResolveResult
	decodeResponse(t, resp, &result)
	assert.Equal(t, "https://cloudflare-ipfs.com/ipfs/"+cid, result.Resolved)
}

func TestResolveMobileUserAgent(t *testing.T) {
	_, ts := newTestServer(t)

	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resolve?url=ipfs://"+cid, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var result ResolveResult
	decodeResponse(t, resp, &result)
	assert.Equal(t, "https://cloudflare-ipfs.com/ipfs/"+cid, result.Resolved)
}

func TestResolveRequiresURL(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/resolve")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/queue/", SetQueueRequest{Tracks: queueTracks(3)})
	var state QueueState
	decodeResponse(t, resp, &state)
	assert.Equal(t, 3, state.Length)
	assert.Equal(t, 0, state.Index)

	// Wrap forward: 1, 2, back to 0.
	for _, want := range []int{1, 2, 0} {
		resp := postJSON(t, ts.URL+"/api/queue/next", nil)
		var state QueueState
		decodeResponse(t, resp, &state)
		assert.Equal(t, want, state.Index)
		require.NotNil(t, state.Track)
		assert.Equal(t, fmt.Sprintf("%d", want), state.Track.TokenID)
	}

	// Wrap backward from 0 to the last track.
	resp = postJSON(t, ts.URL+"/api/queue/previous", nil)
	decodeResponse(t, resp, &state)
	assert.Equal(t, 2, state.Index)

	// Absolute positioning.
	resp = postJSON(t, ts.URL+"/api/queue/index", SetIndexRequest{Index: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeResponse(t, resp, &state)
	assert.Equal(t, 1, state.Index)

	resp = postJSON(t, ts.URL+"/api/queue/index", SetIndexRequest{Index: 9})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueNextOnEmptyQueue(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/queue/next", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProgressWithoutSessionIsHarmless(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/progress", ProgressRequest{CurrentTime: 30, Duration: 100})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProgressCountsPlayOnce(t *testing.T) {
	s, ts := newTestServer(t)

	tracks := queueTracks(2)
	s.queue.SetTracks(tracks)
	s.tracker.Start(tracks[0])
	key := tracks[0].MediaKey()

	// Below threshold: nothing counted.
	resp := postJSON(t, ts.URL+"/api/progress", ProgressRequest{CurrentTime: 10, Duration: 100})
	resp.Body.Close()
	count, err := s.store.PlayCount(key)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Crossing the threshold counts exactly once, repeats included.
	for _, current := range []float64{26, 50, 99} {
		resp := postJSON(t, ts.URL+"/api/progress", ProgressRequest{CurrentTime: current, Duration: 100})
		resp.Body.Close()
	}
	count, err = s.store.PlayCount(key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPlayHistoryEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	tracks := queueTracks(2)
	s.queue.SetTracks(tracks)

	// Two full sessions for track 0, one for track 1.
	for _, i := range []int{0, 0, 1} {
		s.tracker.Start(tracks[i])
		resp := postJSON(t, ts.URL+"/api/progress", ProgressRequest{CurrentTime: 50, Duration: 100})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/plays/top?limit=5")
	require.NoError(t, err)
	var top []playstore.PlayRecord
	decodeResponse(t, resp, &top)
	require.Len(t, top, 2)
	assert.Equal(t, tracks[0].MediaKey(), top[0].MediaKey)
	assert.Equal(t, 2, top[0].Count)

	resp, err = http.Get(ts.URL + "/api/plays/recent?listener=default")
	require.NoError(t, err)
	var recent []playstore.RecentEntry
	decodeResponse(t, resp, &recent)
	require.Len(t, recent, 2)
	assert.Equal(t, tracks[1].MediaKey(), recent[0].MediaKey)
}

func TestParseBoundedRange(t *testing.T) {
	cases := []struct {
		header     string
		wantStart  int64
		wantEnd    int64
		wantBounds bool
	}{
		{"", 0, 0, false},
		{"bytes=0-1023", 0, 1023, true},
		{"bytes=100-", 0, 0, false},
		{"bytes=-500", 0, 0, false},
		{"bytes=0-1023,2048-4095", 0, 0, false},
		{"bytes=5-2", 0, 0, false},
		{"items=0-10", 0, 0, false},
		{fmt.Sprintf("bytes=0-%d", maxCachedRange+100), 0, 0, false},
	}

	for _, tc := range cases {
		start, end, ok := parseBoundedRange(tc.header)
		assert.Equal(t, tc.wantBounds, ok, "header %q", tc.header)
		if tc.wantBounds {
			assert.Equal(t, tc.wantStart, start)
			assert.Equal(t, tc.wantEnd, end)
		}
	}
}

func TestIsMobileUserAgent(t *testing.T) {
	assert.True(t, isMobileUserAgent("Mozilla/5.0 (Linux; Android 14) Mobile Safari"))
	assert.True(t, isMobileUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"))
	assert.False(t, isMobileUserAgent("Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0"))
	assert.False(t, isMobileUserAgent(""))
}
