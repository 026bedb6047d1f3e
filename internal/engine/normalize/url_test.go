package normalize

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

func TestCanonicalizeStripsDefaultPortAndFragment(t *testing.T) {
	got, err := Canonicalize("HTTP://Example.com:80/Path/?b=2&a=1#frag", nil)
	require.NoError(t, err)
	require.Equal(t, "http", got.Scheme)
	require.Equal(t, "example.com", got.Host)
	require.Equal(t, "", got.Fragment)
	require.Equal(t, "a=1&b=2", got.RawQuery)
}

func TestCanonicalizeStripsTrackingParams(t *testing.T) {
	got, err := Canonicalize("https://a.test/x?utm_source=foo&fbclid=bar&keep=1", nil)
	require.NoError(t, err)
	require.Equal(t, "keep=1", got.RawQuery)
}

func TestCanonicalizeResolvesDotSegments(t *testing.T) {
	got, err := Canonicalize("https://a.test/a/b/../c/./d", nil)
	require.NoError(t, err)
	require.Equal(t, "/a/c/d", got.Path)
}

func TestCanonicalizeTrailingSlash(t *testing.T) {
	root, err := Canonicalize("https://a.test/", nil)
	require.NoError(t, err)
	require.Equal(t, "/", root.Path)

	sub, err := Canonicalize("https://a.test/b/", nil)
	require.NoError(t, err)
	require.Equal(t, "/b", sub.Path)
}

func TestCanonicalizeRejectsNonHTTPSchemes(t *testing.T) {
	for _, raw := range []string{"mailto:a@b.com", "javascript:alert(1)", "tel:+1555"} {
		_, err := Canonicalize(raw, nil)
		require.Error(t, err, raw)
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	first, err := Canonicalize("HTTPS://A.test:443/x/y/../z/?b=2&a=1#f", nil)
	require.NoError(t, err)
	second, err := Canonicalize(first.String(), nil)
	require.NoError(t, err)
	require.True(t, Equal(first, second))
}

func TestCanonicalizeResolvesRelativeAgainstBase(t *testing.T) {
	base, err := Canonicalize("https://a.test/dir/page", nil)
	require.NoError(t, err)
	got, err := Canonicalize("../other", base)
	require.NoError(t, err)
	require.Equal(t, "/other", got.Path)
}

func TestAdmitsHostRules(t *testing.T) {
	policy := engine.ScopePolicy{
		PrimaryHost:     "a.test",
		AllowSubdomains: true,
		AdditionalHosts: []string{"cdn.test"},
	}
	u, _ := url.Parse("https://blog.a.test/x")
	require.True(t, Admits(policy, u))

	u2, _ := url.Parse("https://cdn.test/x")
	require.True(t, Admits(policy, u2))

	u3, _ := url.Parse("https://other.test/x")
	require.False(t, Admits(policy, u3))
}

func TestAdmitsPathPrefix(t *testing.T) {
	policy := engine.ScopePolicy{
		PrimaryHost:         "a.test",
		AllowedPathPrefixes: []string{"/a"},
	}
	inPrefix, _ := url.Parse("https://a.test/a/b")
	require.True(t, Admits(policy, inPrefix))

	notPrefix, _ := url.Parse("https://a.test/abc")
	require.False(t, Admits(policy, notPrefix))
}

func TestMatchPrefixLongestWins(t *testing.T) {
	policy := engine.ScopePolicy{
		PrimaryHost:         "a.test",
		AllowedPathPrefixes: []string{"/a", "/a/b"},
	}
	match, ok := MatchPrefix(policy, "/a/b/c")
	require.True(t, ok)
	require.Equal(t, "/a/b", match)
}

func TestDiscoverPrefixesRequiresTwoDistinctEntries(t *testing.T) {
	e1, _ := url.Parse("https://a.test/kb1/intro")
	e2, _ := url.Parse("https://a.test/kb2/intro")
	a1, _ := url.Parse("https://a.test/shared/page")
	a2, _ := url.Parse("https://a.test/shared/other")
	anchors := map[string][]*url.URL{
		e1.String(): {a1},
		e2.String(): {a2},
	}
	prefixes := DiscoverPrefixes([]*url.URL{e1, e2}, anchors)
	require.Contains(t, prefixes, "/kb1")
	require.Contains(t, prefixes, "/kb2")
	require.Contains(t, prefixes, "/shared")
}
