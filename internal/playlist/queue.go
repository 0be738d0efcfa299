// Package playlist holds the playback queue: an ordered track list with
// wraparound next/previous navigation. The queue is an explicit, injected
// container with a single owner, shared by reference with the preloader
// and the HTTP layer.
package playlist

import (
	"sync"

	"github.com/podplayr/media-engine/internal/media"
)

// Queue is a concurrency-safe ordered sequence of tracks with a current
// position. Navigation wraps around at both ends.
type Queue struct {
	mu     sync.RWMutex
	tracks []media.Track
	index  int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// SetTracks replaces the queue contents and resets the position to the
// first track.
func (q *Queue) SetTracks(tracks []media.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = make([]media.Track, len(tracks))
	copy(q.tracks, tracks)
	q.index = 0
}

// Append adds a track to the end of the queue.
func (q *Queue) Append(track media.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, track)
}

// Current returns the track at the current position.
func (q *Queue) Current() (media.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.tracks) == 0 {
		return media.Track{}, false
	}
	return q.tracks[q.index], true
}

// Next advances the position with wraparound and returns the new current
// track and index.
func (q *Queue) Next() (media.Track, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return media.Track{}, 0, false
	}
	q.index = (q.index + 1) % len(q.tracks)
	return q.tracks[q.index], q.index, true
}

// Previous moves the position back with wraparound and returns the new
// current track and index.
func (q *Queue) Previous() (media.Track, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return media.Track{}, 0, false
	}
	q.index = (q.index - 1 + len(q.tracks)) % len(q.tracks)
	return q.tracks[q.index], q.index, true
}

// At returns the track at position i with wraparound indexing.
func (q *Queue) At(i int) (media.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.tracks) == 0 {
		return media.Track{}, false
	}
	i = ((i % len(q.tracks)) + len(q.tracks)) % len(q.tracks)
	return q.tracks[i], true
}

// Find returns the first track matching contract and token id.
func (q *Queue) Find(contract, tokenID string) (media.Track, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, t := range q.tracks {
		if t.Contract == contract && t.TokenID == tokenID {
			return t, true
		}
	}
	return media.Track{}, false
}

// Index returns the current position.
func (q *Queue) Index() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.index
}

// SetIndex moves the position to i with wraparound indexing. No-op on an
// empty queue.
func (q *Queue) SetIndex(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return
	}
	q.index = ((i % len(q.tracks)) + len(q.tracks)) % len(q.tracks)
}

// Len returns the number of tracks in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tracks)
}

// Tracks returns a copy of the queue contents.
func (q *Queue) Tracks() []media.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]media.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}
