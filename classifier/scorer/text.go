// SPDX-License-Identifier: GPL-3.0-or-later
package scorer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HtmlText returns the visible text of an html body.
func HtmlText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Body returns the text body, or the visible html text if there is none.
func Body(textBody, htmlBody string) string {
	if strings.TrimSpace(textBody) != "" {
		return textBody
	}
	return HtmlText(htmlBody)
}
