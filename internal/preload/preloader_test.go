package preload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podplayr/media-engine/internal/chunkcache"
	"github.com/podplayr/media-engine/internal/fetch"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/playlist"
	"github.com/podplayr/media-engine/internal/resolver"
	"github.com/podplayr/media-engine/pkg/config"
)

// mediaServer serves fixed-size audio bodies and records per-path
// request activity.
type mediaServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	heads  map[string]int
	gets   map[string]int
	ranges map[string]string
}

func newMediaServer(t *testing.T, bodySize int) *mediaServer {
	t.Helper()

	ms := &mediaServer{
		heads:  make(map[string]int),
		gets:   make(map[string]int),
		ranges: make(map[string]string),
	}
	body := strings.Repeat("x", bodySize)

	ms.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.mu.Lock()
		switch r.Method {
		case http.MethodHead:
			ms.heads[r.URL.Path]++
		case http.MethodGet:
			ms.gets[r.URL.Path]++
			ms.ranges[r.URL.Path] = r.Header.Get("Range")
		}
		ms.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/broken") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "track.mp3", time.Time{}, strings.NewReader(body))
	}))
	t.Cleanup(ms.srv.Close)
	return ms
}

func (ms *mediaServer) headCount(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.heads[path]
}

func (ms *mediaServer) getCount(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.gets[path]
}

func (ms *mediaServer) rangeHeader(path string) string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ranges[path]
}

func newTestPreloader(t *testing.T, cfg config.PreloadConfig) (*Preloader, *chunkcache.Cache) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateways := &config.Default().Gateways
	res := resolver.New(gateways, logger)
	cache := chunkcache.New(10*1024*1024, logger)
	fetcher := fetch.New(res, cache, 5*time.Second, logger)
	return New(fetcher, &cfg, logger), cache
}

func makeQueue(srvURL string, n int) *playlist.Queue {
	tracks := make([]media.Track, n)
	for i := range tracks {
		tracks[i] = media.Track{
			Contract: "0xabc",
			TokenID:  fmt.Sprintf("%d", i),
			Audio:    fmt.Sprintf("%s/track-%d.mp3", srvURL, i),
		}
	}
	q := playlist.New()
	q.SetTracks(tracks)
	return q
}

func TestPreloadAheadWarmsCache(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)
	q := makeQueue(ms.srv.URL, 5)

	p.PreloadAhead(context.Background(), q, 0, 3, NetworkClass{Generation: "wifi"})
	p.Wait()

	for i := 1; i <= 3; i++ {
		path := fmt.Sprintf("/track-%d.mp3", i)
		assert.Equal(t, 1, ms.headCount(path), "expected metadata probe for %s", path)
		assert.Equal(t, 1, ms.getCount(path), "expected chunk fetch for %s", path)
	}
	assert.Zero(t, ms.getCount("/track-0.mp3"), "current track must not be preloaded")
	assert.Zero(t, ms.getCount("/track-4.mp3"), "track beyond count must not be preloaded")
}

func TestPreloadPopulatesChunkCache(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)
	q := makeQueue(ms.srv.URL, 2)

	p.PreloadAhead(context.Background(), q, 0, 1, NetworkClass{Generation: "wifi"})
	p.Wait()

	require.Equal(t, 1, ms.getCount("/track-1.mp3"))

	// A subsequent playback fetch of the same leading chunk must be
	// served from cache without touching the network.
	chunkSize := int64(config.Default().Preload.ChunkKBWifi) * 1024
	if chunkSize > 8192 {
		chunkSize = 8192
	}
	track, ok := q.At(1)
	require.True(t, ok)
	data, err := p.fetcher.FetchChunk(context.Background(), track.AudioURL(), media.TypeAudio, 0, chunkSize-1)
	require.NoError(t, err)
	assert.Len(t, data, int(chunkSize))
	assert.Equal(t, 1, ms.getCount("/track-1.mp3"), "second fetch must hit the cache")
}

func TestCellularCapsCountAndSkipsChunks(t *testing.T) {
	ms := newMediaServer(t, 8192)
	cfg := config.Default().Preload
	p, _ := newTestPreloader(t, cfg)
	q := makeQueue(ms.srv.URL, 6)

	p.PreloadAhead(context.Background(), q, 0, 4, NetworkClass{Cellular: true, Generation: "4G"})
	p.Wait()

	// Capped at cellular_max (2): only the next two items, metadata only.
	for i := 1; i <= 2; i++ {
		path := fmt.Sprintf("/track-%d.mp3", i)
		assert.Equal(t, 1, ms.headCount(path))
		assert.Zero(t, ms.getCount(path), "cellular preload must not fetch chunks")
	}
	assert.Zero(t, ms.headCount("/track-3.mp3"))
	assert.Zero(t, ms.headCount("/track-4.mp3"))
}

func TestPreloadWrapsAround(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)
	q := makeQueue(ms.srv.URL, 3)

	p.PreloadAhead(context.Background(), q, 2, 2, NetworkClass{Generation: "wifi"})
	p.Wait()

	assert.Equal(t, 1, ms.getCount("/track-0.mp3"))
	assert.Equal(t, 1, ms.getCount("/track-1.mp3"))
	assert.Zero(t, ms.getCount("/track-2.mp3"), "must not wrap back to the playing item")
}

func TestCountCappedByQueueLength(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)
	q := makeQueue(ms.srv.URL, 2)

	p.PreloadAhead(context.Background(), q, 0, 5, NetworkClass{Generation: "wifi"})
	p.Wait()

	assert.Equal(t, 1, ms.getCount("/track-1.mp3"))
	assert.Zero(t, ms.getCount("/track-0.mp3"))
}

func TestChunkSizeScalesWithGeneration(t *testing.T) {
	cfg := config.Default().Preload
	cfg.ChunkKB3G = 1
	cfg.ChunkKB4G = 2
	cfg.ChunkKBWifi = 4

	cases := []struct {
		generation string
		wantRange  string
	}{
		{"3G", "bytes=0-1023"},
		{"4G", "bytes=0-2047"},
		{"5G", "bytes=0-2047"},
		{"wifi", "bytes=0-4095"},
		{"", "bytes=0-4095"},
	}

	for _, tc := range cases {
		t.Run(tc.generation, func(t *testing.T) {
			ms := newMediaServer(t, 16384)
			p, _ := newTestPreloader(t, cfg)
			q := makeQueue(ms.srv.URL, 2)

			p.PreloadAhead(context.Background(), q, 0, 1, NetworkClass{Generation: tc.generation})
			p.Wait()

			assert.Equal(t, tc.wantRange, ms.rangeHeader("/track-1.mp3"))
		})
	}
}

func TestChunkClampedToMediaLength(t *testing.T) {
	ms := newMediaServer(t, 100)
	p, _ := newTestPreloader(t, config.Default().Preload)
	q := makeQueue(ms.srv.URL, 2)

	p.PreloadAhead(context.Background(), q, 0, 1, NetworkClass{Generation: "wifi"})
	p.Wait()

	assert.Equal(t, "bytes=0-99", ms.rangeHeader("/track-1.mp3"))
}

func TestPreloadFailureIsolation(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)

	q := playlist.New()
	q.SetTracks([]media.Track{
		{Contract: "0xabc", TokenID: "0", Audio: ms.srv.URL + "/track-0.mp3"},
		{Contract: "0xabc", TokenID: "1", Audio: ms.srv.URL + "/broken.mp3"},
		{Contract: "0xabc", TokenID: "2", Audio: ms.srv.URL + "/track-2.mp3"},
	})

	p.PreloadAhead(context.Background(), q, 0, 2, NetworkClass{Generation: "wifi"})
	p.Wait()

	// The broken item fails its probe; the healthy one still loads.
	assert.Equal(t, 1, ms.getCount("/track-2.mp3"))
	assert.Zero(t, ms.getCount("/broken.mp3"))
}

func TestPreloadSkipsTracksWithoutAudio(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)

	q := playlist.New()
	q.SetTracks([]media.Track{
		{Contract: "0xabc", TokenID: "0", Audio: ms.srv.URL + "/track-0.mp3"},
		{Contract: "0xabc", TokenID: "1", Image: "ipfs://QmImageOnly"},
		{Contract: "0xabc", TokenID: "2", Audio: ms.srv.URL + "/track-2.mp3"},
	})

	p.PreloadAhead(context.Background(), q, 0, 2, NetworkClass{Generation: "wifi"})
	p.Wait()

	assert.Equal(t, 1, ms.getCount("/track-2.mp3"))
}

func TestPreloadEmptyAndSingleQueue(t *testing.T) {
	ms := newMediaServer(t, 8192)
	p, _ := newTestPreloader(t, config.Default().Preload)

	p.PreloadAhead(context.Background(), playlist.New(), 0, 3, NetworkClass{})
	p.Wait()

	single := makeQueue(ms.srv.URL, 1)
	p.PreloadAhead(context.Background(), single, 0, 3, NetworkClass{})
	p.Wait()

	assert.Zero(t, ms.getCount("/track-0.mp3"))
}

func TestZeroCountUsesConfigured(t *testing.T) {
	ms := newMediaServer(t, 8192)
	cfg := config.Default().Preload
	cfg.Count = 2
	p, _ := newTestPreloader(t, cfg)
	q := makeQueue(ms.srv.URL, 5)

	p.PreloadAhead(context.Background(), q, 0, 0, NetworkClass{Generation: "wifi"})
	p.Wait()

	assert.Equal(t, 1, ms.getCount("/track-1.mp3"))
	assert.Equal(t, 1, ms.getCount("/track-2.mp3"))
	assert.Zero(t, ms.getCount("/track-3.mp3"))
}
