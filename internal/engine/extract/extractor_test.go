package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHTML = `
<html><head><title>  Sample Page  </title></head>
<body>
<h1>Heading One</h1>
<main><p>Hello   world.</p></main>
<a href="/b">B</a>
<a href="/b">B again</a>
<a href="https://other.test/x">External</a>
</body></html>`

func TestExtractReturnsTitleContentHeadingsAnchors(t *testing.T) {
	e := New(0, 0)
	result, failure := e.Extract("https://a.test/", []byte(sampleHTML))
	require.Nil(t, failure)
	require.Equal(t, "Sample Page", result.Title)
	require.Contains(t, result.Content, "Hello world.")
	require.Equal(t, []string{"Heading One"}, result.Headings)
	require.Equal(t, []string{"https://a.test/b", "https://other.test/x"}, result.Anchors)
}

func TestExtractEmptyBodyIsScrapeFailure(t *testing.T) {
	e := New(0, 0)
	_, failure := e.Extract("https://a.test/", nil)
	require.NotNil(t, failure)
	require.Equal(t, "empty_content", string(failure.Type))
	require.Equal(t, "scrape", string(failure.Phase))
}

func TestExtractTruncatesContentToMaxLength(t *testing.T) {
	e := New(10, 0)
	result, failure := e.Extract("https://a.test/", []byte(sampleHTML))
	require.Nil(t, failure)
	require.LessOrEqual(t, len(result.Content), 10)
}

func TestExtractMalformedHTMLStillParses(t *testing.T) {
	e := New(0, 0)
	_, failure := e.Extract("https://a.test/", []byte("<html><body><p>unterminated"))
	require.Nil(t, failure)
}
