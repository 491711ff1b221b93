package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// noise selects elements that never carry readable text.
const noise = "head, script, style, noscript, template, iframe, svg, canvas, [hidden], [aria-hidden=true]"

// extractHTML returns the page title and its visible text, with block
// elements separated by blank lines.
func extractHTML(raw string) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}
	title = strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")

	doc.Find(noise).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	for _, n := range root.Nodes {
		render(n, &b)
	}
	return title, cleanWhitespace(b.String())
}

func render(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
		return
	case html.ElementNode:
		if blocks[n.DataAtom] && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(c, b)
	}

	if n.DataAtom == atom.Br || n.DataAtom == atom.Li {
		b.WriteByte('\n')
	}
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Footer: true, atom.Nav: true,
	atom.Aside: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Details: true,
	atom.Summary: true, atom.Hr: true,
}

// cleanWhitespace collapses spaces within lines and runs of blank lines.
func cleanWhitespace(s string) string {
	var out []string
	blank := false
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && blank {
			continue
		}
		blank = line == ""
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
