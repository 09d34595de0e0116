// Package extract pulls values out of fetched pages with CSS selectors
// or XPath expressions. Operations run it on the cooperative thread, so
// none of it needs to be goroutine-safe.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// CSS returns the values matched by a CSS selector. The attribute ""
// or "text" selects trimmed text content; "html" selects inner HTML; any
// other name selects that attribute's value.
func CSS(body []byte, selector, attribute string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var values []string
	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		var val string
		switch attribute {
		case "", "text":
			val = strings.TrimSpace(sel.Text())
		case "html":
			val, _ = sel.Html()
		default:
			val, _ = sel.Attr(attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	})
	return values, nil
}

// XPath returns the values matched by an XPath expression, with the same
// attribute conventions as CSS.
func XPath(body []byte, expr, attribute string) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, node := range nodes {
		var val string
		switch attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html":
			val = htmlquery.OutputHTML(node, false)
		default:
			val = htmlquery.SelectAttr(node, attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	}
	return values, nil
}

// Links finds all absolute HTTP(S) links in the document, resolved
// against baseURL, deduplicated, fragments stripped.
func Links(body []byte, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "data:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsed)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		abs := resolved.String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links, nil
}
