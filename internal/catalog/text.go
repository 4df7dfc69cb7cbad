package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText spłaszcza opis HTML ze źródła do zwykłego tekstu (akapity -> linie).
func HTMLToText(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, li, div, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// FeaturesFromHTML zbiera punkty listy (<li>) z opisu jako listę cech produktu.
func FeaturesFromHTML(html string) []string {
	if !strings.Contains(html, "<li") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			out = append(out, t)
		}
	})
	return out
}
