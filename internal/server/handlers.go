package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/resolver"
)

// APIResponse represents a standard API response structure.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ResolveResult is the payload of the /api/resolve endpoint.
type ResolveResult struct {
	Input      string   `json:"input"`
	Resolved   string   `json:"resolved"`
	Candidates []string `json:"candidates,omitempty"`
}

// ProgressRequest reports playback position for the active session.
type ProgressRequest struct {
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
}

// QueueState is the payload of queue read and navigation endpoints.
type QueueState struct {
	Tracks []media.Track `json:"tracks,omitempty"`
	Track  *media.Track  `json:"track,omitempty"`
	Index  int           `json:"index"`
	Length int           `json:"length"`
}

// SetQueueRequest replaces the playback queue.
type SetQueueRequest struct {
	Tracks []media.Track `json:"tracks"`
}

// SetIndexRequest moves the queue cursor to an absolute position.
type SetIndexRequest struct {
	Index int `json:"index"`
}

// handleHealth provides a simple health check endpoint.
// Returns 200 OK if the server is running and the play store is
// accessible.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Play store unavailable", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Server is healthy",
	})
}

// handleResolve resolves a media reference to a direct gateway URL.
// Accepts url, type (audio, image, metadata) and mobile query
// parameters; with candidates=true the full fallback chain is included.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "url parameter is required", nil)
		return
	}

	mediaType := parseMediaType(r.URL.Query().Get("type"))
	mobile := r.URL.Query().Get("mobile") == "true" || isMobileUserAgent(r.UserAgent())

	result := ResolveResult{
		Input:    rawURL,
		Resolved: s.resolver.Resolve(rawURL, mediaType, resolver.ResolveOptions{Mobile: mobile}),
	}
	if r.URL.Query().Get("candidates") == "true" {
		result.Candidates = s.resolver.Candidates(rawURL, mediaType)
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    result,
	})
}

// handleProgress feeds a playback position into the active session.
// Crossing the play-counting threshold is handled by the tracker, which
// fires at most one counted play per session.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s.tracker.OnTimeUpdate(req.CurrentTime, req.Duration)

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
	})
}

// handleQueueGet returns the current queue contents and cursor.
func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QueueState{
			Tracks: s.queue.Tracks(),
			Index:  s.queue.Index(),
			Length: s.queue.Len(),
		},
	})
}

// handleQueueSet replaces the queue. The cursor resets to the first
// track.
func (s *Server) handleQueueSet(w http.ResponseWriter, r *http.Request) {
	var req SetQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s.queue.SetTracks(req.Tracks)

	s.logger.Info("Queue replaced", "tracks", len(req.Tracks))

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QueueState{
			Index:  s.queue.Index(),
			Length: s.queue.Len(),
		},
		Message: "Queue updated",
	})
}

// handleQueueNext advances the cursor, wrapping from the last track
// back to the first.
func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	track, index, ok := s.queue.Next()
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "Queue is empty", nil)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QueueState{
			Track:  &track,
			Index:  index,
			Length: s.queue.Len(),
		},
	})
}

// handleQueuePrevious moves the cursor back, wrapping from the first
// track to the last.
func (s *Server) handleQueuePrevious(w http.ResponseWriter, r *http.Request) {
	track, index, ok := s.queue.Previous()
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "Queue is empty", nil)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QueueState{
			Track:  &track,
			Index:  index,
			Length: s.queue.Len(),
		},
	})
}

// handleQueueIndex moves the cursor to an absolute position.
func (s *Server) handleQueueIndex(w http.ResponseWriter, r *http.Request) {
	var req SetIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Index < 0 || req.Index >= s.queue.Len() {
		s.writeErrorResponse(w, http.StatusBadRequest, "Index out of range", nil)
		return
	}

	s.queue.SetIndex(req.Index)

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QueueState{
			Index:  s.queue.Index(),
			Length: s.queue.Len(),
		},
	})
}

// handleTopPlayed returns the most-played tracks ordered by counted
// plays.
func (s *Server) handleTopPlayed(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 20)

	records, err := s.store.TopPlayed(limit)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read play history", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    records,
	})
}

// handleRecentlyPlayed returns a listener's recently-played list, most
// recent first.
func (s *Server) handleRecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	listener := r.URL.Query().Get("listener")
	limit := parseLimit(r.URL.Query().Get("limit"), 20)

	entries, err := s.store.RecentlyPlayed(listener, limit)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read play history", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    entries,
	})
}

// parseMediaType maps the type query parameter onto a media type,
// defaulting to audio.
func parseMediaType(value string) media.MediaType {
	switch value {
	case "image":
		return media.TypeImage
	case "metadata":
		return media.TypeMetadata
	default:
		return media.TypeAudio
	}
}

// parseLimit parses a limit query parameter with bounds.
func parseLimit(value string, fallback int) int {
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 || limit > 100 {
		return fallback
	}
	return limit
}

// isMobileUserAgent detects mobile clients so resolution can prefer the
// mobile-friendly IPFS gateway.
func isMobileUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// writeJSONResponse writes a JSON response with the specified status code.
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response with the specified status
// code and message.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	s.logger.Error("HTTP error response",
		"status", statusCode,
		"message", message,
		"error", err)

	errorMsg := message
	if err != nil {
		errorMsg = err.Error()
	}

	s.writeJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   errorMsg,
		Message: message,
	})
}
