package crawler

import (
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minPageText is the minimum clean text length for a page to be worth
// ingesting.
const minPageText = 100

// Page is the extraction result for one fetched document.
type Page struct {
	Title string
	Text  string
	Links []string
}

// strippedElements are removed before text extraction.
var strippedElements = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"header": true,
	"footer": true,
}

// ExtractPage parses raw HTML and returns the page title, main text,
// and same-domain links. The title cascade is <title>, first <h1>,
// og:title, then the URL itself. Main text comes from the first
// non-empty selector among main, article, .content, #content, body;
// when that still yields too little, readability has a final try.
func ExtractPage(rawHTML string, pageURL *url.URL) Page {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Page{Title: pageURL.String()}
	}

	page := Page{
		Title: extractTitle(doc, pageURL),
		Text:  extractMainText(doc),
		Links: extractLinks(doc, pageURL),
	}

	if len(page.Text) < minPageText {
		if article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL); err == nil {
			if text := strings.TrimSpace(article.TextContent); len(text) > len(page.Text) {
				page.Text = text
			}
			if page.Title == pageURL.String() && article.Title != "" {
				page.Title = article.Title
			}
		}
	}
	return page
}

func extractTitle(doc *html.Node, pageURL *url.URL) string {
	if title := strings.TrimSpace(textOf(findElement(doc, "title"))); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(textOf(findElement(doc, "h1"))); h1 != "" {
		return h1
	}
	if og := strings.TrimSpace(findMetaProperty(doc, "og:title")); og != "" {
		return og
	}
	return pageURL.String()
}

func extractMainText(doc *html.Node) string {
	candidates := []func(*html.Node) *html.Node{
		func(n *html.Node) *html.Node { return findElement(n, "main") },
		func(n *html.Node) *html.Node { return findElement(n, "article") },
		func(n *html.Node) *html.Node { return findByClass(n, "content") },
		func(n *html.Node) *html.Node { return findByID(n, "content") },
		func(n *html.Node) *html.Node { return findElement(n, "body") },
	}
	for _, find := range candidates {
		if node := find(doc); node != nil {
			if text := collectText(node); len(text) >= minPageText {
				return text
			}
		}
	}
	if body := findElement(doc, "body"); body != nil {
		return collectText(body)
	}
	return ""
}

func extractLinks(doc *html.Node, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}
		href := attr(n, "href")
		if href == "" {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		if resolved.Host != base.Host {
			return true
		}
		resolved.Fragment = ""
		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
		return true
	})
	return links
}

// collectText gathers text content, skipping stripped elements and
// normalizing whitespace between blocks.
func collectText(node *html.Node) string {
	var parts []string
	walk(node, func(n *html.Node) bool {
		if n.Type == html.ElementNode && strippedElements[n.Data] {
			return false
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, " ")
}

// walk visits nodes depth-first; visit returning false skips the subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func findElement(n *html.Node, name string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if found != nil {
			return false
		}
		if node.Type == html.ElementNode && node.Data == name {
			found = node
			return false
		}
		return true
	})
	return found
}

func findByClass(n *html.Node, class string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if found != nil {
			return false
		}
		if node.Type == html.ElementNode {
			for _, c := range strings.Fields(attr(node, "class")) {
				if c == class {
					found = node
					return false
				}
			}
		}
		return true
	})
	return found
}

func findByID(n *html.Node, id string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if found != nil {
			return false
		}
		if node.Type == html.ElementNode && attr(node, "id") == id {
			found = node
			return false
		}
		return true
	})
	return found
}

func findMetaProperty(n *html.Node, property string) string {
	var content string
	walk(n, func(node *html.Node) bool {
		if content != "" {
			return false
		}
		if node.Type == html.ElementNode && node.Data == "meta" && attr(node, "property") == property {
			content = attr(node, "content")
			return false
		}
		return true
	})
	return content
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	return collectText(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
