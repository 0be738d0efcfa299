// Package session implements per-playback play tracking: an immediate
// "started playing" notification fired at playback start, and a counted
// play fired exactly once when the watched ratio crosses the configured
// threshold.
//
// The two paths are deliberately separate. The immediate notification
// keeps recently-played surfaces responsive; the threshold-gated count is
// what analytics treat as a real listen. Immediate-tracking suppression
// lasts only for the current session: starting a new session of the same
// media fires it again.
package session

import (
	"log/slog"
	"sync"

	"github.com/podplayr/media-engine/internal/media"
)

// State is the lifecycle of a single playback session.
type State int

const (
	StateNotStarted State = iota
	StateWatching
	StateThresholdCrossed
)

// PlayOptions qualifies a record-play callback invocation.
type PlayOptions struct {
	// ThresholdReached marks a counted play: the listener watched at
	// least the threshold ratio of the media.
	ThresholdReached bool
	// ForceTrack marks the immediate recently-played update fired at
	// playback start, before any threshold logic.
	ForceTrack bool
}

// RecordFunc receives play events. Failures are logged and swallowed;
// they never affect playback.
type RecordFunc func(mediaKey, listener string, track media.Track, opts PlayOptions) error

// NotifyFunc receives the immediate started-playing notification.
type NotifyFunc func(track media.Track)

// Session is the ephemeral per-playback-attempt state.
type Session struct {
	MediaKey string
	Track    media.Track

	state            State
	immediateTracked bool
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Tracker drives play sessions. One session is active at a time; starting
// a new track tears down the previous session so that one item's failure
// or partial play can never corrupt the next item's tracking.
type Tracker struct {
	mu sync.Mutex

	listener  string
	threshold float64
	record    RecordFunc
	notify    NotifyFunc
	logger    *slog.Logger

	current *Session
}

// NewTracker creates a tracker for one listener identity. threshold is
// the watched ratio at which a play is counted (0.25 by default
// upstream); record and notify may be nil.
func NewTracker(listener string, threshold float64, record RecordFunc, notify NotifyFunc, logger *slog.Logger) *Tracker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.25
	}
	return &Tracker{
		listener:  listener,
		threshold: threshold,
		record:    record,
		notify:    notify,
		logger:    logger,
	}
}

// Start begins a fresh session for track, tearing down any previous one.
// The started-playing notification fires unconditionally here, before
// any threshold logic, and the immediate recently-played record fires
// once per session.
func (t *Tracker) Start(track media.Track) *Session {
	t.mu.Lock()
	s := &Session{
		MediaKey: track.MediaKey(),
		Track:    track,
		state:    StateWatching,
	}
	t.current = s
	fireImmediate := !s.immediateTracked
	s.immediateTracked = true
	t.mu.Unlock()

	t.logger.Debug("Play session started",
		"media_key", s.MediaKey,
		"name", track.Name)

	if t.notify != nil {
		t.notify(track)
	}

	if fireImmediate && t.record != nil {
		if err := t.record(s.MediaKey, t.listener, track, PlayOptions{ForceTrack: true}); err != nil {
			t.logger.Warn("Immediate play record failed",
				"media_key", s.MediaKey,
				"error", err)
		}
	}

	return s
}

// OnTimeUpdate feeds a playback progress observation into the current
// session. The threshold transition fires at most once per session:
// current/duration >= threshold with a positive duration moves the
// session to StateThresholdCrossed and invokes the record callback with
// ThresholdReached set.
//
// Updates may arrive out of order after seeks; only the latest observed
// ratio matters.
func (t *Tracker) OnTimeUpdate(current, duration float64) {
	t.mu.Lock()
	s := t.current
	if s == nil || s.state != StateWatching {
		t.mu.Unlock()
		return
	}
	if duration <= 0 || current/duration < t.threshold {
		t.mu.Unlock()
		return
	}
	s.state = StateThresholdCrossed
	t.mu.Unlock()

	t.logger.Info("Play threshold crossed",
		"media_key", s.MediaKey,
		"name", s.Track.Name,
		"ratio", current/duration)

	if t.record != nil {
		if err := t.record(s.MediaKey, t.listener, s.Track, PlayOptions{ThresholdReached: true}); err != nil {
			t.logger.Warn("Counted play record failed",
				"media_key", s.MediaKey,
				"error", err)
		}
	}
}

// End tears down the current session. Subsequent time updates are ignored
// until the next Start.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}

// Current returns the active session, or nil when nothing is playing.
func (t *Tracker) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
