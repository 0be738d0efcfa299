// Package media defines the track record the engine operates on and the
// content-derived media key used to unify tracks that point at the same
// underlying media across different contracts and token ids.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MediaType selects the processing rules applied during URL resolution.
// Audio preserves full Arweave path structure; images do not.
type MediaType string

const (
	TypeImage    MediaType = "image"
	TypeAudio    MediaType = "audio"
	TypeMetadata MediaType = "metadata"
)

// Track is a normalized view of an NFT's playable content.
// The engine never mutates a Track; it only reads the media fields.
type Track struct {
	Contract string         `json:"contract"`
	TokenID  string         `json:"tokenId"`
	Name     string         `json:"name"`
	Image    string         `json:"image,omitempty"`
	Audio    string         `json:"audio,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// TrackMetadata carries the secondary media fields from the token metadata.
type TrackMetadata struct {
	AnimationURL string `json:"animation_url,omitempty"`
	Image        string `json:"image,omitempty"`
}

// AudioURL returns the playable audio reference for the track: the audio
// field if set, otherwise the metadata animation_url.
func (t *Track) AudioURL() string {
	if t.Audio != "" {
		return t.Audio
	}
	if t.Metadata != nil {
		return t.Metadata.AnimationURL
	}
	return ""
}

// ImageURL returns the artwork reference: the image field if set,
// otherwise the metadata image.
func (t *Track) ImageURL() string {
	if t.Image != "" {
		return t.Image
	}
	if t.Metadata != nil {
		return t.Metadata.Image
	}
	return ""
}

// HasAudio reports whether the track carries any playable media reference.
func (t *Track) HasAudio() bool {
	return t.AudioURL() != ""
}

// MediaKey returns a stable content-derived identifier for the track.
// Two tracks that point at the same underlying media produce the same key
// regardless of which contract or token id they were minted under. Tracks
// with no media fields at all fall back to contract:tokenId.
func (t *Track) MediaKey() string {
	audio := normalizeRef(t.AudioURL())
	image := normalizeRef(t.ImageURL())

	if audio == "" && image == "" {
		return fmt.Sprintf("%s:%s", strings.ToLower(t.Contract), t.TokenID)
	}

	sum := sha256.Sum256([]byte(audio + "|" + image))
	return hex.EncodeToString(sum[:16])
}

// normalizeRef canonicalizes a raw media reference so that trivially
// different spellings of the same URL hash to the same key.
func normalizeRef(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	return raw
}
