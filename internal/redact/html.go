package redact

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML extracts the visible text from an HTML-bodied message.
// Script and style contents are dropped; block elements become newlines.
// Input that fails to parse is returned unchanged.
func StripHTML(input string) string {
	if !strings.Contains(input, "<") {
		return input
	}
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		case html.TextNode:
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return Normalize(b.String())
}
