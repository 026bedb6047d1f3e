package normalize

import (
	"net/url"
	"sort"
	"strings"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// Admits implements ScopePolicy.admits from §4.1: scheme check, host
// membership (primary host, subdomain-of-primary, or an additional
// allowed host), and path-prefix containment.
func Admits(p engine.ScopePolicy, u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if !hostAllowed(p, u.Host) {
		return false
	}
	if len(p.AllowedPathPrefixes) == 0 {
		return true
	}
	_, ok := MatchPrefix(p, u.Path)
	return ok
}

func hostAllowed(p engine.ScopePolicy, host string) bool {
	host = strings.ToLower(host)
	primary := strings.ToLower(p.PrimaryHost)
	if host == primary {
		return true
	}
	if p.AllowSubdomains && isSubdomain(host, primary) {
		return true
	}
	for _, extra := range p.AdditionalHosts {
		if host == strings.ToLower(extra) {
			return true
		}
	}
	return false
}

// isSubdomain reports whether host is a strict DNS suffix of primary,
// e.g. "blog.example.com" is a subdomain of "example.com".
func isSubdomain(host, primary string) bool {
	return strings.HasSuffix(host, "."+primary)
}

// IsSubdomainOf is the exported form used by the worker pool to populate
// PageResult.is_subdomain.
func IsSubdomainOf(host, primary string) bool {
	return isSubdomain(strings.ToLower(host), strings.ToLower(primary))
}

// MatchPrefix returns the longest allowed path prefix that matches path,
// breaking ties lexicographically, per §4.1.
func MatchPrefix(p engine.ScopePolicy, path string) (string, bool) {
	var matches []string
	for _, prefix := range p.AllowedPathPrefixes {
		if prefixMatches(path, prefix) {
			matches = append(matches, prefix)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) > len(matches[j])
		}
		return matches[i] < matches[j]
	})
	return matches[0], true
}

func prefixMatches(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	// "/a/b" matches prefix "/a" but "/abc" must not match prefix "/a".
	rest := strings.TrimPrefix(path, prefix)
	return rest == "" || strings.HasPrefix(rest, "/") || strings.HasSuffix(prefix, "/")
}

// DirectoryPrefix returns the directory component of u's path, used by
// the Multi-Scope Scheduler both as a scope's allowed-path-prefix and as
// the seed of auto-discovered prefixes. Single-scope Jobs set no path
// prefixes.
func DirectoryPrefix(u *url.URL) string {
	idx := strings.LastIndex(u.Path, "/")
	if idx <= 0 {
		return "/"
	}
	return u.Path[:idx]
}

// DiscoverPrefixes implements the bounded, first-pass-only auto-discovery
// from §4.1 / §9: the initial prefix set is the directory component of
// each entry URL, optionally extended by directory components observed
// on at least two distinct entry pages' direct anchors. anchorsByEntry
// maps each entry URL to the anchors found on that single page only —
// the observation window never extends beyond the seeds' direct anchors.
func DiscoverPrefixes(entries []*url.URL, anchorsByEntry map[string][]*url.URL) []string {
	seen := map[string]struct{}{}
	var prefixes []string
	for _, e := range entries {
		dir := DirectoryPrefix(e)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			prefixes = append(prefixes, dir)
		}
	}

	counts := map[string]int{}
	for _, entry := range entries {
		anchors := anchorsByEntry[entry.String()]
		seenOnThisEntry := map[string]struct{}{}
		for _, a := range anchors {
			dir := DirectoryPrefix(a)
			if _, dup := seenOnThisEntry[dir]; dup {
				continue
			}
			seenOnThisEntry[dir] = struct{}{}
			counts[dir]++
		}
	}
	for dir, n := range counts {
		if n >= 2 {
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				prefixes = append(prefixes, dir)
			}
		}
	}
	sort.Strings(prefixes)
	return prefixes
}
