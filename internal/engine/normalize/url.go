// Package normalize canonicalizes URLs and implements the scope policy
// that decides which discovered URLs a Job will follow.
package normalize

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParamPrefixes and trackingParamNames list query keys stripped
// during canonicalization because they carry no addressing information.
var trackingParamPrefixes = []string{"utm_"}
var trackingParamNames = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
}

// Canonicalize resolves raw against base (if non-nil) and returns the
// canonical form described by the data model: lowercased scheme/host,
// default ports stripped, fragment removed, dot-segments resolved,
// trailing slash stripped (except at root), tracking params removed,
// remaining query keys sorted, unreserved characters percent-decoded.
//
// Only http and https schemes are accepted; an empty host, or an obvious
// trap scheme such as mailto/javascript/tel, is rejected.
func Canonicalize(raw string, base *url.URL) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("normalize: parse %q: %w", raw, err)
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("normalize: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("normalize: empty host in %q", raw)
	}

	out := *u
	out.Scheme = scheme
	out.Host = strings.ToLower(stripDefaultPort(u.Host, scheme))
	out.Fragment = ""
	out.RawFragment = ""
	out.Path = resolveDotSegments(u.Path)
	if out.Path == "" {
		out.Path = "/"
	}
	if out.Path != "/" {
		out.Path = strings.TrimSuffix(out.Path, "/")
		if out.Path == "" {
			out.Path = "/"
		}
	}
	out.RawQuery = canonicalQuery(u.Query())

	// url.Parse has already decoded Path. Clearing RawPath makes String()
	// re-escape it from the decoded form, so percent-encoded unreserved
	// characters (letters, digits, -._~) come out decoded and characters
	// that must be escaped in a path are escaped again.
	out.RawPath = ""

	return &out, nil
}

func stripDefaultPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

func resolveDotSegments(p string) string {
	if p == "" {
		return p
	}
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != "" {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if isTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kept := url.Values{}
	for _, k := range keys {
		kept[k] = q[k]
	}
	return kept.Encode()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := trackingParamNames[lower]; ok {
		return true
	}
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Equal reports whether two canonical forms are byte-equal, per §3's
// equality rule.
func Equal(a, b *url.URL) bool {
	return a.String() == b.String()
}
