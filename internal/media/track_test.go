package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioURLPrecedence(t *testing.T) {
	track := Track{
		Audio: "ar://parent/file.mp3",
		Metadata: &TrackMetadata{
			AnimationURL: "ipfs.io/animation.mp4",
		},
	}
	assert.Equal(t, "ar://parent/file.mp3", track.AudioURL())

	track.Audio = ""
	assert.Equal(t, "ipfs.io/animation.mp4", track.AudioURL())

	track.Metadata = nil
	assert.Empty(t, track.AudioURL())
	assert.False(t, track.HasAudio())
}

func TestMediaKeyStable(t *testing.T) {
	a := Track{
		Contract: "0xAbc",
		TokenID:  "1",
		Audio:    "ar://tx123/song.mp3",
		Image:    "ipfs://QmFoo",
	}
	b := Track{
		Contract: "0xDef",
		TokenID:  "99",
		Audio:    "ar://tx123/song.mp3",
		Image:    "ipfs://QmFoo",
	}

	// Same media on different contracts unifies under one key.
	assert.Equal(t, a.MediaKey(), b.MediaKey())

	// Repeated derivation is deterministic.
	assert.Equal(t, a.MediaKey(), a.MediaKey())
}

func TestMediaKeyNormalization(t *testing.T) {
	a := Track{Audio: "ar://tx123/song.mp3"}
	b := Track{Audio: " ar://tx123/song.mp3/ "}
	assert.Equal(t, a.MediaKey(), b.MediaKey())
}

func TestMediaKeyContractFallback(t *testing.T) {
	track := Track{Contract: "0xABC", TokenID: "7"}
	assert.Equal(t, "0xabc:7", track.MediaKey())
}

func TestMediaKeyDiffersForDifferentMedia(t *testing.T) {
	a := Track{Audio: "ar://tx123/song.mp3"}
	b := Track{Audio: "ar://tx456/song.mp3"}
	assert.NotEqual(t, a.MediaKey(), b.MediaKey())
}
