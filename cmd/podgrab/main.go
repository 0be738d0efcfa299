// Command podgrab resolves a media reference through the gateway
// fallback chain and downloads it to a local file.
//
// Usage:
//
//	podgrab -url ar://TXID/4 -o track.mp3
//	podgrab -url ipfs://Qm... -resolve-only
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/schollz/progressbar/v3"

	"github.com/podplayr/media-engine/internal/chunkcache"
	"github.com/podplayr/media-engine/internal/fetch"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/resolver"
	"github.com/podplayr/media-engine/pkg/config"
)

func main() {
	rawURL := flag.String("url", "", "media reference to fetch (ar://, ipfs://, https:// or bare CID)")
	output := flag.String("o", "", "output file path (default: last URL segment)")
	mediaTypeFlag := flag.String("type", "audio", "media type: audio, image or metadata")
	mobile := flag.Bool("mobile", false, "resolve with the mobile-preferred IPFS gateway")
	resolveOnly := flag.Bool("resolve-only", false, "print the resolved URL and fallback chain without downloading")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *rawURL == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	mediaType := parseMediaType(*mediaTypeFlag)

	res := resolver.New(&cfg.Gateways, logger)

	if *resolveOnly {
		resolved := res.Resolve(*rawURL, mediaType, resolver.ResolveOptions{Mobile: *mobile})
		fmt.Println(resolved)
		for _, candidate := range res.Candidates(*rawURL, mediaType)[1:] {
			fmt.Println(candidate)
		}
		return
	}

	cache := chunkcache.New(cfg.Cache.CacheBudgetBytes(), logger)
	fetcher := fetch.New(res, cache, cfg.Preload.ProbeTimeout, logger)

	if err := download(fetcher, *rawURL, mediaType, *output); err != nil {
		fmt.Fprintf(os.Stderr, "download failed: %v\n", err)
		os.Exit(1)
	}
}

// download streams the media body to a local file, walking the gateway
// fallback chain on errors. The file is written atomically.
func download(fetcher *fetch.Fetcher, rawURL string, mediaType media.MediaType, output string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	resp, err := fetcher.Open(ctx, rawURL, mediaType, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if output == "" {
		output = filepath.Base(resp.Request.URL.Path)
		if output == "/" || output == "." {
			output = "download"
		}
	}

	bar := progressbar.DefaultBytes(
		resp.ContentLength,
		fmt.Sprintf("Downloading %s", filepath.Base(output)),
	)
	progressReader := io.TeeReader(resp.Body, bar)

	if err := atomic.WriteFile(output, progressReader); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Fprintf(os.Stderr, "\nsaved %s\n", output)
	return nil
}

// parseMediaType maps the -type flag onto a media type, defaulting to
// audio.
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
