// Package fetch retrieves media bytes over HTTP through the gateway
// fallback chain and the chunk cache.
//
// The chain is consumed in a single left-to-right pass; there is no
// retry loop and no backoff. When a candidate on an Arweave gateway
// fails with a format-class status, one final bare-transaction-id
// request is attempted before giving up. Exhaustion surfaces as
// ErrAllGatewaysFailed, the only error playback callers see.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/podplayr/media-engine/internal/chunkcache"
	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/internal/resolver"
)

// ErrAllGatewaysFailed is the terminal playback-unavailable signal:
// every candidate in the fallback chain failed, including the bare
// transaction id last resort when applicable.
var ErrAllGatewaysFailed = errors.New("all gateway candidates failed")

// ErrNoMedia is returned when the raw reference resolves to nothing
// fetchable (empty reference or placeholder).
var ErrNoMedia = errors.New("no media available")

// Metadata is the result of a lightweight probe: enough to warm a
// player (content type, total length) without fetching the body.
type Metadata struct {
	URL         string
	ContentType string
	Length      int64
}

// Fetcher resolves raw references and fetches byte ranges, consulting
// the chunk cache before the network.
type Fetcher struct {
	client       *http.Client
	resolver     *resolver.Resolver
	cache        *chunkcache.Cache
	probeTimeout time.Duration
	logger       *slog.Logger
}

// New creates a fetcher. probeTimeout bounds metadata probes; range and
// streaming fetches are bounded by the caller's context.
func New(res *resolver.Resolver, cache *chunkcache.Cache, probeTimeout time.Duration, logger *slog.Logger) *Fetcher {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Fetcher{
		client:       &http.Client{},
		resolver:     res,
		cache:        cache,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// SetClient overrides the HTTP client. Used by tests.
func (f *Fetcher) SetClient(client *http.Client) {
	f.client = client
}

// FetchChunk returns the bytes of [start, end] for the media reference,
// serving from the chunk cache when possible. Chunks are keyed by the
// primary resolved URL, so a chunk served by a mirror gateway still hits
// on the next request.
func (f *Fetcher) FetchChunk(ctx context.Context, rawURL string, mediaType media.MediaType, start, end int64) ([]byte, error) {
	primary := f.resolver.Resolve(rawURL, mediaType, resolver.ResolveOptions{})
	if !isFetchable(primary) {
		return nil, ErrNoMedia
	}

	if data, ok := f.cache.Get(primary, start, end); ok {
		return data, nil
	}

	candidates := f.resolver.Candidates(rawURL, mediaType)
	data, err := f.walkChain(ctx, candidates, func(ctx context.Context, url string) ([]byte, error) {
		return f.fetchRange(ctx, url, start, end)
	})
	if err != nil {
		return nil, err
	}

	f.cache.Put(primary, start, end, data)
	return data, nil
}

// Open returns a streaming response for the media reference, walking the
// fallback chain until a candidate answers. rangeHeader is passed
// through verbatim when non-empty. The caller owns the response body.
func (f *Fetcher) Open(ctx context.Context, rawURL string, mediaType media.MediaType, rangeHeader string) (*http.Response, error) {
	primary := f.resolver.Resolve(rawURL, mediaType, resolver.ResolveOptions{})
	if !isFetchable(primary) {
		return nil, ErrNoMedia
	}

	candidates := f.resolver.Candidates(rawURL, mediaType)

	var lastResort string
	for _, url := range candidates {
		resp, err := f.doGet(ctx, url, rangeHeader)
		if err != nil {
			f.logger.Debug("Candidate fetch failed", "url", url, "error", err)
			continue
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}
		if lastResort == "" {
			lastResort = f.bareTxFallback(url, resp.StatusCode, candidates)
		}
		resp.Body.Close()
		f.logger.Debug("Candidate rejected", "url", url, "status", resp.StatusCode)
	}

	if lastResort != "" {
		f.logger.Info("Attempting bare transaction id last resort", "url", lastResort)
		resp, err := f.doGet(ctx, lastResort, rangeHeader)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	return nil, fmt.Errorf("open %s: %w", rawURL, ErrAllGatewaysFailed)
}

// ProbeMetadata issues a lightweight request for content type and total
// length, bounded by the probe timeout. HEAD is tried first; gateways
// that reject it get a one-byte range request instead.
func (f *Fetcher) ProbeMetadata(ctx context.Context, rawURL string, mediaType media.MediaType) (Metadata, error) {
	primary := f.resolver.Resolve(rawURL, mediaType, resolver.ResolveOptions{})
	if !isFetchable(primary) {
		return Metadata{}, ErrNoMedia
	}

	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	candidates := f.resolver.Candidates(rawURL, mediaType)
	for _, url := range candidates {
		meta, err := f.probeOne(ctx, url)
		if err != nil {
			f.logger.Debug("Metadata probe failed", "url", url, "error", err)
			continue
		}
		return meta, nil
	}

	return Metadata{}, fmt.Errorf("probe %s: %w", rawURL, ErrAllGatewaysFailed)
}

// walkChain runs fetchOne over the candidate list, applying the Arweave
// bare-transaction-id last resort after exhaustion.
func (f *Fetcher) walkChain(ctx context.Context, candidates []string, fetchOne func(context.Context, string) ([]byte, error)) ([]byte, error) {
	var lastResort string

	for _, url := range candidates {
		data, err := fetchOne(ctx, url)
		if err == nil {
			return data, nil
		}

		var statusErr *statusError
		if lastResort == "" && errors.As(err, &statusErr) {
			lastResort = f.bareTxFallback(url, statusErr.code, candidates)
		}
		f.logger.Debug("Candidate fetch failed", "url", url, "error", err)
	}

	if lastResort != "" {
		f.logger.Info("Attempting bare transaction id last resort", "url", lastResort)
		if data, err := fetchOne(ctx, lastResort); err == nil {
			return data, nil
		}
	}

	return nil, ErrAllGatewaysFailed
}

// bareTxFallback decides whether a failed candidate earns the bare
// transaction id retry: the candidate must sit on an Arweave gateway,
// the failure must be format-class, and the extracted URL must not
// already be in the chain.
func (f *Fetcher) bareTxFallback(url string, status int, candidates []string) string {
	if !f.resolver.IsArweaveHost(url) || !isFormatError(status) {
		return ""
	}
	txid := resolver.ExtractTxID(url)
	if txid == "" {
		return ""
	}
	bare := f.resolver.BareTxURL(txid)
	for _, c := range candidates {
		if c == bare {
			return ""
		}
	}
	return bare
}

// statusError carries a non-2xx HTTP status through the chain walk.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// fetchRange issues a single ranged GET against one candidate URL.
func (f *Fetcher) fetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusOK:
		// Gateway ignored the Range header; take just the slice we asked
		// for from the front of the body.
		want := end - start + 1
		if start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
				return nil, fmt.Errorf("failed to skip to range start: %w", err)
			}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, want))
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return data, nil
	default:
		return nil, &statusError{code: resp.StatusCode}
	}
}

// doGet issues a single GET with optional Range passthrough.
func (f *Fetcher) doGet(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return f.client.Do(req)
}

// probeOne probes a single candidate with HEAD, falling back to a
// one-byte range GET when the gateway does not support HEAD.
func (f *Fetcher) probeOne(ctx context.Context, url string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Metadata{}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Metadata{}, err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return f.probeRange(ctx, url)
	}
	if resp.StatusCode >= 400 {
		return Metadata{}, &statusError{code: resp.StatusCode}
	}

	return Metadata{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}, nil
}

// probeRange fetches bytes 0-0 to learn type and total length from the
// Content-Range header.
func (f *Fetcher) probeRange(ctx context.Context, url string) (Metadata, error) {
	resp, err := f.doGet(ctx, url, "bytes=0-0")
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Metadata{}, &statusError{code: resp.StatusCode}
	}

	meta := Metadata{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}

	// Content-Range: bytes 0-0/12345 carries the real total.
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if total, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				meta.Length = total
			}
		}
	}

	return meta, nil
}

// isFormatError reports whether an HTTP status maps to the
// format-or-source-not-supported error class that triggers the Arweave
// bare transaction id last resort.
func isFormatError(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// isFetchable reports whether a resolved URL can actually be requested.
// Placeholders and relative paths cannot.
func isFetchable(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
