package common

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML reduces a rich-text API field to plain text. Some incident.io
// fields (summaries, update messages) arrive as HTML fragments; the markdown
// renderer wants plain text with structure flattened to line breaks.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<>") {
		return strings.TrimSpace(fragment)
	}

	node, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	return ExtractText(node)
}

// ExtractText gets all text content from an HTML node and its children
func ExtractText(node *html.Node) string {
	var text strings.Builder

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "br" || n.Data == "li" || n.Data == "div") {
			if text.Len() > 0 && !strings.HasSuffix(text.String(), "\n") {
				text.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(node)
	return strings.TrimSpace(text.String())
}
