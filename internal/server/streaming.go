package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/podplayr/media-engine/internal/fetch"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/preload"
)

// maxCachedRange is the largest byte range served through the chunk
// cache. Bigger or open-ended ranges stream straight from the gateway.
const maxCachedRange = 2 * 1024 * 1024

// handleStream serves track audio with HTTP Range support for seeking.
// The initial request (no Range header) starts a play session and
// triggers predictive preloading of upcoming queue items. Bounded
// ranges up to maxCachedRange are served from the chunk cache; anything
// else is proxied from the winning gateway.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	contract := chi.URLParam(r, "contract")
	token := chi.URLParam(r, "token")

	track, ok := s.queue.Find(contract, token)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "Track not in queue", nil)
		return
	}

	rawURL := track.AudioURL()
	if rawURL == "" {
		s.writeErrorResponse(w, http.StatusNotFound, "Track has no audio", nil)
		return
	}

	rangeHeader := r.Header.Get("Range")

	s.logger.Debug("Stream request",
		"contract", contract,
		"token", token,
		"range", rangeHeader,
		"user_agent", r.UserAgent())

	// Seek requests carry a Range header; only the initial request
	// starts a session and warms the cache for upcoming tracks.
	if rangeHeader == "" {
		s.onPlaybackStart(track, r)
	}

	if start, end, bounded := parseBoundedRange(rangeHeader); bounded {
		s.serveCachedRange(w, r, rawURL, start, end)
		return
	}

	s.proxyStream(w, r, rawURL, rangeHeader)
}

// onPlaybackStart aligns the queue cursor with the requested track,
// starts a play session and kicks off preloading. Preloading is
// fire-and-forget; a failure there never affects the stream.
func (s *Server) onPlaybackStart(track media.Track, r *http.Request) {
	index := s.queue.Index()
	for i, t := range s.queue.Tracks() {
		if t.Contract == track.Contract && t.TokenID == track.TokenID {
			index = i
			break
		}
	}
	s.queue.SetIndex(index)

	s.tracker.Start(track)

	network := preload.NetworkClass{
		Cellular:   r.URL.Query().Get("cellular") == "true",
		Generation: r.URL.Query().Get("generation"),
	}
	s.preloader.PreloadAhead(context.Background(), s.queue, index, 0, network)
}

// serveCachedRange answers a bounded range request from the chunk
// cache, fetching through the gateway fallback chain on a miss.
func (s *Server) serveCachedRange(w http.ResponseWriter, r *http.Request, rawURL string, start, end int64) {
	data, err := s.fetcher.FetchChunk(r.Context(), rawURL, media.TypeAudio, start, end)
	if err != nil {
		s.writeStreamError(w, rawURL, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, start+int64(len(data))-1))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Client disconnected during range write", "url", rawURL, "error", err)
	}
}

// proxyStream streams the audio body from the winning gateway,
// preserving range semantics end to end.
func (s *Server) proxyStream(w http.ResponseWriter, r *http.Request, rawURL, rangeHeader string) {
	resp, err := s.fetcher.Open(r.Context(), rawURL, media.TypeAudio, rangeHeader)
	if err != nil {
		s.writeStreamError(w, rawURL, err)
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified"} {
		if value := resp.Header.Get(header); value != "" {
			w.Header().Set(header, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Debug("Stream interrupted", "url", rawURL, "error", err)
	}
}

// writeStreamError maps fetch failures onto HTTP status codes.
func (s *Server) writeStreamError(w http.ResponseWriter, rawURL string, err error) {
	switch {
	case errors.Is(err, fetch.ErrNoMedia):
		s.writeErrorResponse(w, http.StatusNotFound, "No media available", err)
	case errors.Is(err, fetch.ErrAllGatewaysFailed):
		s.writeErrorResponse(w, http.StatusBadGateway, "All gateways failed", err)
	default:
		s.writeErrorResponse(w, http.StatusBadGateway, "Upstream fetch failed", err)
	}
	s.logger.Warn("Stream failed", "url", rawURL, "error", err)
}

// parseBoundedRange accepts a single fully-bounded range of at most
// maxCachedRange bytes. Anything else (open-ended, suffix, multipart)
// reports false and is proxied instead.
func parseBoundedRange(rangeHeader string) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(rangeHeader, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" || endStr == "" {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end-start+1 > maxCachedRange {
		return 0, 0, false
	}
	return start, end, true
}
