// Package playstore persists play history using BoltDB.
//
// Design Philosophy:
// - BoltDB chosen for ACID properties and embedded nature
// - One bucket per access pattern: counts by media key, recents by listener
// - Values are JSON for easy export and debugging
// - All operations are atomic and error-safe
package playstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/natefinch/atomic"
	"go.etcd.io/bbolt"

	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/session"
	"github.com/podplayr/media-engine/pkg/config"
)

var (
	bucketPlays  = []byte("plays")  // counted plays, keyed by media key
	bucketRecent = []byte("recent") // recently-played lists, keyed by listener
)

// recentLimit caps each listener's recently-played list.
const recentLimit = 50

// Store handles all play-history persistence with proper error handling
// and logging.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// PlayRecord is a counted-play entry.
// Key pattern: {media-key}
type PlayRecord struct {
	MediaKey      string      `json:"media_key"`
	Track         media.Track `json:"track"`
	Count         int         `json:"count"`
	FirstPlayedAt time.Time   `json:"first_played_at"`
	LastPlayedAt  time.Time   `json:"last_played_at"`
}

// RecentEntry is one item of a listener's recently-played list.
type RecentEntry struct {
	MediaKey string      `json:"media_key"`
	Track    media.Track `json:"track"`
	PlayedAt time.Time   `json:"played_at"`
}

// exportSnapshot is the JSON document written by Export.
type exportSnapshot struct {
	ExportedAt time.Time                `json:"exported_at"`
	Plays      []PlayRecord             `json:"plays"`
	Recent     map[string][]RecentEntry `json:"recent"`
}

// NewStore opens the play-history database under the configured
// directory and creates the required buckets.
func NewStore(cfg *config.StoreConfig, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	dbPath := filepath.Join(cfg.Directory, "playhistory.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initializeBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	logger.Info("Play store initialized", "db_path", dbPath)

	return store, nil
}

// initializeBuckets creates all required buckets if they don't exist.
func (s *Store) initializeBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketPlays, bucketRecent} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", string(bucket), err)
			}
		}
		return nil
	})
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	s.logger.Info("Closing play store")
	return s.db.Close()
}

// RecordPlay persists one play callback. An immediate record
// (ForceTrack) updates the listener's recently-played list; a counted
// record (ThresholdReached) increments the media key's play count.
// Satisfies the session tracker's record callback.
func (s *Store) RecordPlay(mediaKey, listener string, track media.Track, opts session.PlayOptions) error {
	if mediaKey == "" {
		return fmt.Errorf("play record must have a media key")
	}

	if opts.ForceTrack {
		if err := s.addRecent(mediaKey, listener, track); err != nil {
			return err
		}
	}
	if opts.ThresholdReached {
		if err := s.incrementCount(mediaKey, track); err != nil {
			return err
		}
	}
	return nil
}

// incrementCount bumps the counted-play record for a media key,
// creating it on first play.
func (s *Store) incrementCount(mediaKey string, track media.Track) error {
	now := time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPlays)

		record := PlayRecord{
			MediaKey:      mediaKey,
			Track:         track,
			FirstPlayedAt: now,
		}
		if data := bucket.Get([]byte(mediaKey)); data != nil {
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to unmarshal play record: %w", err)
			}
		}

		record.Count++
		record.Track = track
		record.LastPlayedAt = now

		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal play record: %w", err)
		}
		if err := bucket.Put([]byte(mediaKey), data); err != nil {
			return fmt.Errorf("failed to store play record: %w", err)
		}

		s.logger.Debug("Play counted",
			"media_key", mediaKey,
			"count", record.Count)

		return nil
	})
}

// addRecent prepends an entry to the listener's recently-played list.
// An existing entry for the same media key moves to the front instead
// of duplicating.
func (s *Store) addRecent(mediaKey, listener string, track media.Track) error {
	if listener == "" {
		listener = "default"
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecent)

		var entries []RecentEntry
		if data := bucket.Get([]byte(listener)); data != nil {
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("failed to unmarshal recent list: %w", err)
			}
		}

		filtered := make([]RecentEntry, 0, len(entries)+1)
		filtered = append(filtered, RecentEntry{
			MediaKey: mediaKey,
			Track:    track,
			PlayedAt: time.Now(),
		})
		for _, e := range entries {
			if e.MediaKey == mediaKey {
				continue
			}
			filtered = append(filtered, e)
		}
		if len(filtered) > recentLimit {
			filtered = filtered[:recentLimit]
		}

		data, err := json.Marshal(filtered)
		if err != nil {
			return fmt.Errorf("failed to marshal recent list: %w", err)
		}
		if err := bucket.Put([]byte(listener), data); err != nil {
			return fmt.Errorf("failed to store recent list: %w", err)
		}

		s.logger.Debug("Recently-played updated",
			"listener", listener,
			"media_key", mediaKey,
			"entries", len(filtered))

		return nil
	})
}

// TopPlayed returns up to n counted-play records ordered by play count,
// then by recency for equal counts.
func (s *Store) TopPlayed(n int) ([]PlayRecord, error) {
	var records []PlayRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPlays)

		return bucket.ForEach(func(k, v []byte) error {
			var record PlayRecord
			if err := json.Unmarshal(v, &record); err != nil {
				s.logger.Warn("Failed to unmarshal play record",
					"key", string(k),
					"error", err)
				return nil // Continue iteration, don't fail completely
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].LastPlayedAt.After(records[j].LastPlayedAt)
	})

	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// RecentlyPlayed returns up to n entries of a listener's
// recently-played list, most recent first.
func (s *Store) RecentlyPlayed(listener string, n int) ([]RecentEntry, error) {
	if listener == "" {
		listener = "default"
	}

	var entries []RecentEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecent)
		data := bucket.Get([]byte(listener))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entries)
	})
	if err != nil {
		return nil, err
	}

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// PlayCount returns the counted plays for a media key, zero when never
// counted.
func (s *Store) PlayCount(mediaKey string) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPlays)
		data := bucket.Get([]byte(mediaKey))
		if data == nil {
			return nil
		}
		var record PlayRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal play record: %w", err)
		}
		count = record.Count
		return nil
	})
	return count, err
}

// Export writes the full play history as a JSON document to path. The
// file is written atomically so a crash never leaves a partial export.
func (s *Store) Export(path string) error {
	snapshot := exportSnapshot{
		ExportedAt: time.Now(),
		Recent:     make(map[string][]RecentEntry),
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		plays := tx.Bucket(bucketPlays)
		if err := plays.ForEach(func(k, v []byte) error {
			var record PlayRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			snapshot.Plays = append(snapshot.Plays, record)
			return nil
		}); err != nil {
			return err
		}

		recent := tx.Bucket(bucketRecent)
		return recent.ForEach(func(k, v []byte) error {
			var entries []RecentEntry
			if err := json.Unmarshal(v, &entries); err != nil {
				return nil
			}
			snapshot.Recent[string(k)] = entries
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read play history: %w", err)
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write export to %s: %w", path, err)
	}

	s.logger.Info("Play history exported",
		"path", path,
		"plays", len(snapshot.Plays),
		"listeners", len(snapshot.Recent))

	return nil
}

// HealthCheck verifies the database is readable.
func (s *Store) HealthCheck(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.db.View(func(tx *bbolt.Tx) error {
			if tx.Bucket(bucketPlays) == nil {
				return fmt.Errorf("plays bucket missing")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
