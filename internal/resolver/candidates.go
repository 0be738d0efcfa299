package resolver

import (
	"strings"

	"github.com/podplayr/media-engine/internal/media"
)

// Candidates builds the ordered gateway fallback chain for rawURL. The
// first element always equals the resolved primary URL; subsequent
// elements are strictly different hosts or path forms. The list is a
// pure function of configuration and input: same input, same list.
//
// The caller consumes the list left to right, advancing on each fetch or
// playback failure. Exhausting it is terminal; there is no retry loop.
func (r *Resolver) Candidates(rawURL string, mediaType media.MediaType) []string {
	rawURL = strings.TrimSpace(rawURL)
	primary := r.Resolve(rawURL, mediaType, ResolveOptions{})

	candidates := []string{primary}

	if rest, ok := strings.CutPrefix(rawURL, "ipfs://"); ok {
		return appendUnique(candidates, r.ipfsCandidates(rest)...)
	}
	if looksLikeCID(rawURL) {
		return appendUnique(candidates, r.ipfsCandidates(rawURL)...)
	}

	if rest, ok := strings.CutPrefix(rawURL, "ar://"); ok {
		return appendUnique(candidates, r.arweaveCandidates(rest, mediaType)...)
	}

	return candidates
}

// ipfsCandidates enumerates every configured gateway with the same CID
// appended, in the fixed preference order.
func (r *Resolver) ipfsCandidates(cidPath string) []string {
	cidPath = strings.TrimPrefix(cidPath, "ipfs/")
	cidPath = strings.TrimPrefix(cidPath, "/")
	if cidPath == "" {
		return nil
	}

	out := make([]string, 0, len(r.cfg.IPFS))
	for _, gw := range r.cfg.IPFS {
		out = append(out, gw+"/ipfs/"+cidPath)
	}
	return out
}

// arweaveCandidates enumerates the fallback forms for an Arweave
// reference. For a two-segment PODs path the order is: full txid/path on
// the primary gateway, same path on the secondary, then the bare parent
// txid on the primary as a deliberately degraded last resort (drops the
// sub-path entirely, for when path-based retrieval fails).
func (r *Resolver) arweaveCandidates(rest string, mediaType media.MediaType) []string {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return nil
	}

	txid, subPath, hasPath := strings.Cut(rest, "/")

	var out []string
	if hasPath && subPath != "" {
		for _, gw := range r.cfg.Arweave {
			out = append(out, gw+"/"+txid+"/"+subPath)
		}
		out = append(out, r.cfg.Arweave[0]+"/"+txid)
		return out
	}

	for _, gw := range r.cfg.Arweave {
		out = append(out, gw+"/"+txid)
	}
	return out
}

// appendUnique appends items to list, skipping duplicates while
// preserving order.
func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]struct{}, len(list)+len(items))
	for _, s := range list {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		list = append(list, s)
	}
	return list
}
