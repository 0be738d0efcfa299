// Package preload warms the chunk cache for likely-next queue items
// ahead of user navigation.
//
// Preloading is fire-and-forget: PreloadAhead never blocks the caller,
// and one item's failure never aborts the others. Preload traffic runs
// through a shared rate limiter so background warming cannot starve the
// foreground stream.
package preload

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/podplayr/media-engine/internal/fetch"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/playlist"
	"github.com/podplayr/media-engine/pkg/config"
)

// NetworkClass is the client-supplied connection classification. The
// engine never probes the network itself; it only reads this value.
type NetworkClass struct {
	Cellular   bool   `json:"cellular"`
	Generation string `json:"generation"` // "2G", "3G", "4G", "5G", "wifi"
}

// Preloader eagerly fetches metadata and leading chunks for upcoming
// queue items.
type Preloader struct {
	fetcher *fetch.Fetcher
	limiter *rate.Limiter
	cfg     *config.PreloadConfig
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a preloader. The rate limit applies to chunk bytes only;
// metadata probes are too small to matter.
func New(fetcher *fetch.Fetcher, cfg *config.PreloadConfig, logger *slog.Logger) *Preloader {
	bytesPerSecond := rate.Limit(cfg.RateLimitMbps * 1024 * 1024 / 8)
	burstSize := int(bytesPerSecond * 5)

	return &Preloader{
		fetcher: fetcher,
		limiter: rate.NewLimiter(bytesPerSecond, burstSize),
		cfg:     cfg,
		logger:  logger,
	}
}

// PreloadAhead warms the cache for the next count items after
// currentIndex, wrapping around the queue. On cellular connections the
// effective count is capped and only metadata is probed; otherwise the
// leading chunk of each item is fetched and cached, sized by the
// detected network generation.
//
// Returns immediately; all work happens in per-item goroutines.
func (p *Preloader) PreloadAhead(ctx context.Context, queue *playlist.Queue, currentIndex, count int, network NetworkClass) {
	length := queue.Len()
	if length <= 1 {
		return
	}

	if count <= 0 {
		count = p.cfg.Count
	}
	if network.Cellular && count > p.cfg.CellularMax {
		count = p.cfg.CellularMax
	}
	// Never wrap all the way back to the playing item.
	if count > length-1 {
		count = length - 1
	}

	chunkSize := p.chunkSizeFor(network)

	p.logger.Debug("Preloading ahead",
		"current_index", currentIndex,
		"count", count,
		"cellular", network.Cellular,
		"generation", network.Generation,
		"chunk_size", chunkSize)

	for i := 1; i <= count; i++ {
		track, ok := queue.At(currentIndex + i)
		if !ok || !track.HasAudio() {
			continue
		}

		p.wg.Add(1)
		go func(track media.Track, metadataOnly bool) {
			defer p.wg.Done()
			p.preloadOne(ctx, track, chunkSize, metadataOnly)
		}(track, network.Cellular)
	}
}

// preloadOne warms a single track. Failures are logged and isolated.
func (p *Preloader) preloadOne(ctx context.Context, track media.Track, chunkSize int64, metadataOnly bool) {
	rawURL := track.AudioURL()

	meta, err := p.fetcher.ProbeMetadata(ctx, rawURL, media.TypeAudio)
	if err != nil {
		p.logger.Debug("Preload metadata probe failed",
			"media_key", track.MediaKey(),
			"error", err)
		return
	}

	if metadataOnly {
		p.logger.Debug("Preloaded metadata",
			"media_key", track.MediaKey(),
			"content_type", meta.ContentType,
			"length", meta.Length)
		return
	}

	if meta.Length > 0 && chunkSize > meta.Length {
		chunkSize = meta.Length
	}

	if err := p.limiter.WaitN(ctx, int(chunkSize)); err != nil {
		return
	}

	if _, err := p.fetcher.FetchChunk(ctx, rawURL, media.TypeAudio, 0, chunkSize-1); err != nil {
		p.logger.Debug("Preload chunk fetch failed",
			"media_key", track.MediaKey(),
			"error", err)
		return
	}

	p.logger.Debug("Preloaded leading chunk",
		"media_key", track.MediaKey(),
		"bytes", chunkSize)
}

// chunkSizeFor scales the leading-chunk size to the connection class.
func (p *Preloader) chunkSizeFor(network NetworkClass) int64 {
	switch network.Generation {
	case "2G", "3G":
		return int64(p.cfg.ChunkKB3G) * 1024
	case "4G", "5G":
		return int64(p.cfg.ChunkKB4G) * 1024
	default:
		return int64(p.cfg.ChunkKBWifi) * 1024
	}
}

// Wait blocks until all in-flight preloads finish. Used by shutdown and
// tests.
func (p *Preloader) Wait() {
	p.wg.Wait()
}
