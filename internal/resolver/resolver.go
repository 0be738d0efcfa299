// Package resolver normalizes raw NFT media references (ar://, ipfs://,
// https://, bare CIDs) into fetchable HTTP URLs and produces the ordered
// gateway fallback chain consulted when playback of a candidate fails.
//
// Resolution is a pure function of configuration and input: it never
// errors and never blocks. Malformed input comes back unchanged; empty
// input comes back as the configured placeholder. This is a deliberate
// never-block-rendering contract inherited from the player UI.
package resolver

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/podplayr/media-engine/internal/media"
	"github.com/podplayr/media-engine/pkg/config"
)

// arweaveTxID matches a bare Arweave transaction id: 43 characters of
// base64url alphabet.
var arweaveTxID = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// ResolveOptions carries per-request resolution hints.
type ResolveOptions struct {
	// Mobile selects the mobile-preferred IPFS gateway. Derived from the
	// client User-Agent by the HTTP layer; the resolver never sniffs.
	Mobile bool
}

// Resolver turns raw media references into fetchable URLs using the
// configured gateway lists.
type Resolver struct {
	cfg    *config.GatewayConfig
	logger *slog.Logger
}

// New creates a resolver backed by the given gateway configuration.
func New(cfg *config.GatewayConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		logger: logger,
	}
}

// Resolve normalizes rawURL into a fully-qualified HTTP(S) URL.
//
// Recognized forms, in priority order: absolute HTTP(S) URLs (returned
// unchanged, making Resolve idempotent), ipfs://<cid>[/path],
// ar://<txid>/<path> (audio preserves the sub-path exactly; non-audio
// with a two-id PODs pattern uses only the terminal segment as the
// transaction id), bare ar://<txid>, and bare CIDs. Anything else is
// returned as-is.
func (r *Resolver) Resolve(rawURL string, mediaType media.MediaType, opts ResolveOptions) string {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return r.cfg.Placeholder
	}

	// Already absolute: pass through unchanged.
	if strings.HasPrefix(rawURL, "https://") || strings.HasPrefix(rawURL, "http://") {
		return rawURL
	}

	if rest, ok := strings.CutPrefix(rawURL, "ipfs://"); ok {
		return r.resolveIPFS(rest, opts)
	}

	if rest, ok := strings.CutPrefix(rawURL, "ar://"); ok {
		return r.resolveArweave(rest, mediaType)
	}

	// Bare CID with no scheme at all.
	if looksLikeCID(rawURL) {
		return r.resolveIPFS(rawURL, opts)
	}

	r.logger.Debug("Unrecognized media reference, passing through",
		"raw_url", rawURL,
		"media_type", mediaType)

	return rawURL
}

// resolveIPFS maps a CID (optionally with a sub-path) onto an IPFS gateway.
func (r *Resolver) resolveIPFS(cidPath string, opts ResolveOptions) string {
	// Some minters double up the scheme: ipfs://ipfs/<cid>.
	cidPath = strings.TrimPrefix(cidPath, "ipfs/")
	cidPath = strings.TrimPrefix(cidPath, "/")

	if cidPath == "" {
		return r.cfg.Placeholder
	}

	gateway := r.cfg.IPFS[0]
	if opts.Mobile && r.cfg.IPFSMobile != "" {
		gateway = r.cfg.IPFSMobile
	}

	return gateway + "/ipfs/" + cidPath
}

// resolveArweave maps an Arweave reference onto the primary gateway.
//
// Audio media keeps the full <txid>/<path> structure: PODs audio files
// are stored as secondary files under a parent transaction and the
// sub-path is required to reach them. Non-audio references carrying the
// two-id PODs pattern instead use the terminal segment as a standalone
// transaction id.
func (r *Resolver) resolveArweave(rest string, mediaType media.MediaType) string {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return r.cfg.Placeholder
	}

	gateway := r.cfg.Arweave[0]

	txid, subPath, hasPath := strings.Cut(rest, "/")
	if !hasPath || subPath == "" {
		return gateway + "/" + txid
	}

	if mediaType != media.TypeAudio {
		if last := lastSegment(subPath); arweaveTxID.MatchString(last) {
			// Two-id PODs pattern: the terminal segment is itself a
			// transaction id and retrievable on its own.
			return gateway + "/" + last
		}
	}

	return gateway + "/" + txid + "/" + subPath
}

// looksLikeCID reports whether s is plausibly a bare IPFS CID.
func looksLikeCID(s string) bool {
	if strings.ContainsAny(s, "/?#") {
		return false
	}
	if strings.HasPrefix(s, "Qm") && len(s) == 46 {
		return true
	}
	return strings.HasPrefix(s, "bafy") && len(s) >= 46
}

// lastSegment returns the final path segment of p.
func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// IsArweaveHost reports whether url points at one of the configured
// Arweave gateways. Used by the fetch layer to decide whether the bare
// transaction id last resort applies.
func (r *Resolver) IsArweaveHost(url string) bool {
	for _, gw := range r.cfg.Arweave {
		if strings.HasPrefix(url, gw+"/") {
			return true
		}
	}
	return false
}

// BareTxURL maps a bare transaction id onto the primary Arweave gateway.
func (r *Resolver) BareTxURL(txid string) string {
	return r.cfg.Arweave[0] + "/" + txid
}

// ExtractTxID pulls a 43-character Arweave transaction id out of a failed
// URL, enabling one final bare-transaction-id request before giving up.
// Returns the empty string when no segment qualifies.
func ExtractTxID(url string) string {
	// Strip any query or fragment before inspecting path segments.
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	for _, seg := range strings.Split(url, "/") {
		if arweaveTxID.MatchString(seg) {
			return seg
		}
	}
	return ""
}
