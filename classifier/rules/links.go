// SPDX-License-Identifier: GPL-3.0-or-later
package rules

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var textUrlRegex = regexp.MustCompile(`(?i)https?://[^\s<>"'()\[\]{}]+`)

// links with these path extensions are embedded resources, not click targets
var resourceExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".bmp",
	".css", ".js",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".mp3", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

type Link struct {
	Url string
	// Text is the anchor text, empty for links found in the text body.
	Text string
	// Host is lower-cased and stripped of the port.
	Host string
	// Userinfo is set when the url carries credentials before the host.
	Userinfo bool
}

// ExtractLinks returns the clickable http(s) links of a message in order of
// appearance, deduplicated by url. Anchors of the html body come first.
func ExtractLinks(textBody, htmlBody string) []Link {
	seen := map[string]bool{}
	links := []Link{}
	add := func(raw, text string) {
		raw = strings.TrimSpace(raw)
		if seen[raw] || isResourceUrl(raw) {
			return
		}
		link, ok := parseLink(raw)
		if !ok {
			return
		}
		seen[raw] = true
		link.Text = strings.TrimSpace(text)
		links = append(links, link)
	}

	if htmlBody != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
		if err == nil {
			doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				add(href, s.Text())
			})
		}
	}

	for _, raw := range textUrlRegex.FindAllString(textBody, -1) {
		add(raw, "")
	}

	return links
}

func parseLink(raw string) (Link, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Link{}, false
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return Link{}, false
	}
	return Link{
		Url:      raw,
		Host:     host,
		Userinfo: u.User != nil,
	}, true
}

func isResourceUrl(raw string) bool {
	path, _, _ := strings.Cut(raw, "?")
	path, _, _ = strings.Cut(path, "#")
	path = strings.ToLower(path)
	for _, ext := range resourceExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
