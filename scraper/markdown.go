package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mackee/go-readability"
)

// scopeHTML returns the outer HTML of every element matching selector,
// joined by newlines. An empty selector keeps the whole page.
func scopeHTML(page, selector string) (string, error) {
	if selector == "" {
		return page, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			parts = append(parts, html)
		}
	})
	return strings.Join(parts, "\n"), nil
}

// renderContent converts the scoped HTML to markdown. When the selector
// matched nothing it falls back to the page's main article.
func renderContent(pageURL, scoped, page string) (string, error) {
	if strings.TrimSpace(scoped) != "" {
		return htmlToMarkdown(pageURL, scoped)
	}
	if strings.TrimSpace(page) == "" {
		return "", nil
	}

	slog.Warn("selector matched nothing, using main content", slog.String("url", pageURL))
	article, err := readability.Extract(page, readability.DefaultOptions())
	if err == nil && article.Root != nil {
		return readability.ToMarkdown(article.Root), nil
	}
	return htmlToMarkdown(pageURL, page)
}

func htmlToMarkdown(pageURL, html string) (string, error) {
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Host
	}
	converter := md.NewConverter(host, true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return out, nil
}
