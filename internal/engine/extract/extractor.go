// Package extract parses fetched HTML into title, main text, headings,
// and discovered anchors, per §4.5.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/normalize"
)

// DefaultMaxContentLength and DefaultMaxHeadings are the spec's extractor
// bounds, configurable via §6.
const (
	DefaultMaxContentLength = 50000
	DefaultMaxHeadings      = 50
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Extractor implements engine.Extractor on top of goquery.
type Extractor struct {
	MaxContentLength int
	MaxHeadings      int
}

// New builds an Extractor with the given bounds; zero values fall back to
// the spec defaults.
func New(maxContentLength, maxHeadings int) *Extractor {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	if maxHeadings <= 0 {
		maxHeadings = DefaultMaxHeadings
	}
	return &Extractor{MaxContentLength: maxContentLength, MaxHeadings: maxHeadings}
}

// Extract implements engine.Extractor.
func (e *Extractor) Extract(finalURL string, body []byte) (engine.ExtractResult, *engine.Failure) {
	if len(body) == 0 {
		return engine.ExtractResult{}, &engine.Failure{Phase: engine.PhaseScrape, Type: engine.FailureEmptyContent, Reason: "empty response body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return engine.ExtractResult{}, &engine.Failure{Phase: engine.PhaseScrape, Type: engine.FailureParseError, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return engine.ExtractResult{}, &engine.Failure{Phase: engine.PhaseScrape, Type: engine.FailureParseError, Reason: fmt.Sprintf("parse final url: %v", err)}
	}

	title, hasTitle := e.extractTitle(doc)
	content := e.extractContent(doc)
	headings := e.extractHeadings(doc)
	anchors := e.extractAnchors(doc, base)

	if content == "" && !hasTitle && len(anchors) == 0 {
		return engine.ExtractResult{}, &engine.Failure{Phase: engine.PhaseScrape, Type: engine.FailureEmptyContent, Reason: "no title, content, or anchors found"}
	}

	return engine.ExtractResult{
		Title:    title,
		HasTitle: hasTitle,
		Content:  content,
		Headings: headings,
		Anchors:  anchors,
	}, nil
}

// extractTitle returns the first non-empty of <title>, <h1>, og:title.
func (e *Extractor) extractTitle(doc *goquery.Document) (string, bool) {
	if text := strings.TrimSpace(doc.Find("title").First().Text()); text != "" {
		return text, true
	}
	if text := strings.TrimSpace(doc.Find("h1").First().Text()); text != "" {
		return text, true
	}
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if text := strings.TrimSpace(content); text != "" {
			return text, true
		}
	}
	return "", false
}

func (e *Extractor) extractContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, noscript").Remove()
	main := doc.Find("main, article").First()
	if main.Length() == 0 {
		main = doc.Find("body").First()
	}
	text := collapseWhitespace(main.Text())
	if runes := []rune(text); len(runes) > e.MaxContentLength {
		text = string(runes[:e.MaxContentLength])
	}
	return text
}

func (e *Extractor) extractHeadings(doc *goquery.Document) []string {
	var headings []string
	doc.Find("h1, h2, h3, h4, h5, h6").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			headings = append(headings, text)
		}
		return len(headings) < e.MaxHeadings
	})
	return headings
}

func (e *Extractor) extractAnchors(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var anchors []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		canon, err := normalize.Canonicalize(href, base)
		if err != nil {
			return
		}
		key := canon.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		anchors = append(anchors, key)
	})
	return anchors
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
