package crawler

import (
	"net/url"
	"strings"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %q: %v", raw, err)
	}
	return u
}

func filler(n int) string {
	return strings.TrimSpace(strings.Repeat("Relevant documentation text. ", n))
}

func TestExtractPage_TitleCascade(t *testing.T) {
	base := mustURL(t, "https://docs.example.com/page")
	body := "<p>" + filler(10) + "</p>"

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"title element wins",
			"<html><head><title>From Title</title></head><body><h1>From H1</h1>" + body + "</body></html>",
			"From Title",
		},
		{
			"h1 when no title",
			"<html><body><h1>From H1</h1>" + body + "</body></html>",
			"From H1",
		},
		{
			"og:title when no title or h1",
			`<html><head><meta property="og:title" content="From OG"></head><body>` + body + "</body></html>",
			"From OG",
		},
		{
			"url as last resort",
			"<html><body>" + body + "</body></html>",
			"https://docs.example.com/page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := ExtractPage(tt.html, base)
			if page.Title != tt.want {
				t.Errorf("got title %q, want %q", page.Title, tt.want)
			}
		})
	}
}

func TestExtractPage_PrefersMainContent(t *testing.T) {
	base := mustURL(t, "https://docs.example.com/")
	html := `<html><body>
		<nav>Navigation junk that should never appear in extracted text</nav>
		<main><p>` + filler(10) + `</p></main>
		<footer>Footer junk</footer>
	</body></html>`

	page := ExtractPage(html, base)
	if !strings.Contains(page.Text, "Relevant documentation text.") {
		t.Errorf("main content missing from %q", page.Text)
	}
	if strings.Contains(page.Text, "Navigation junk") || strings.Contains(page.Text, "Footer junk") {
		t.Errorf("stripped elements leaked into text: %q", page.Text)
	}
}

func TestExtractPage_ContentSelectorFallbacks(t *testing.T) {
	base := mustURL(t, "https://docs.example.com/")

	tests := []struct {
		name string
		html string
	}{
		{"article", "<html><body><article>" + filler(10) + "</article></body></html>"},
		{"content class", `<html><body><div class="sidebar content">` + filler(10) + "</div></body></html>"},
		{"content id", `<html><body><div id="content">` + filler(10) + "</div></body></html>"},
		{"bare body", "<html><body>" + filler(10) + "</body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := ExtractPage(tt.html, base)
			if !strings.Contains(page.Text, "Relevant documentation text.") {
				t.Errorf("content not extracted: %q", page.Text)
			}
		})
	}
}

func TestExtractPage_Links(t *testing.T) {
	base := mustURL(t, "https://docs.example.com/guide/")
	html := `<html><body><main>` + filler(10) + `</main>
		<a href="/absolute">abs</a>
		<a href="relative">rel</a>
		<a href="https://docs.example.com/dup">dup</a>
		<a href="https://docs.example.com/dup#section">dup with fragment</a>
		<a href="https://other.example.org/away">cross-domain</a>
		<a href="mailto:hi@example.com">mail</a>
		<a href="ftp://docs.example.com/file">ftp</a>
	</body></html>`

	page := ExtractPage(html, base)

	want := map[string]bool{
		"https://docs.example.com/absolute":       true,
		"https://docs.example.com/guide/relative": true,
		"https://docs.example.com/dup":            true,
	}
	if len(page.Links) != len(want) {
		t.Fatalf("expected %d links, got %v", len(want), page.Links)
	}
	for _, link := range page.Links {
		if !want[link] {
			t.Errorf("unexpected link %q", link)
		}
	}
}

func TestExtractPage_InvalidHTMLStillTitled(t *testing.T) {
	base := mustURL(t, "https://docs.example.com/broken")

	// html.Parse is lenient, so even fragments yield a document; the
	// page must at minimum carry a title.
	page := ExtractPage("<<<not really html>>>", base)
	if page.Title == "" {
		t.Error("expected a title for unparseable input")
	}
}
