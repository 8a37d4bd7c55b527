package export

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

// RenderOptions controls how annotations appear in rendered HTML.
// Without ShowSuggestions the original text is rendered: suggested
// insertions are left out and suggested removals kept as plain text.
// Highlight, when set, limits comment highlights to the ids it accepts.
type RenderOptions struct {
	ShowComments    bool
	ShowSuggestions bool
	Highlight       func(annotation.ID) bool
}

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("mark", "ins", "del", "span", "s", "u", "sub", "sup")
	p.AllowAttrs("class").OnElements("mark", "ins", "del", "span", "div")
	p.AllowDataAttributes()
	return p
}

// RenderNodes renders a Plate node list to sanitized HTML.
func RenderNodes(nodes []*doc.Node, opts RenderOptions) string {
	var b strings.Builder
	for _, n := range nodes {
		renderNode(&b, n, opts)
	}
	return policy.Sanitize(b.String())
}

func renderNode(b *strings.Builder, n *doc.Node, opts RenderOptions) {
	if n == nil {
		return
	}
	if n.IsText() {
		renderLeaf(b, n, opts)
		return
	}

	if data, ok := marks.BlockSuggestion(n); ok {
		if !opts.ShowSuggestions {
			if data.Type == marks.OpInsert {
				return
			}
			renderElement(b, n, opts)
			return
		}
		tag := suggestionTag(data.Type)
		fmt.Fprintf(b, `<%s class="suggestion-block" data-suggestion="%s">`, tag, html.EscapeString(string(data.ID)))
		renderElement(b, n, opts)
		fmt.Fprintf(b, "</%s>\n", tag)
		return
	}
	renderElement(b, n, opts)
}

func renderElement(b *strings.Builder, n *doc.Node, opts RenderOptions) {
	children := func() {
		for _, child := range n.Children {
			renderNode(b, child, opts)
		}
	}
	wrap := func(tag string) {
		fmt.Fprintf(b, "<%s>", tag)
		children()
		fmt.Fprintf(b, "</%s>\n", tag)
	}

	switch n.Type {
	case "p", "blockquote", "ul", "ol", "li", "table", "tr", "td", "th":
		wrap(n.Type)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		wrap(n.Type)
	case "code_block":
		b.WriteString("<pre><code>")
		children()
		b.WriteString("</code></pre>\n")
	case "code_line":
		children()
		b.WriteString("\n")
	case "a":
		url, _ := n.Attr("url")
		href, _ := url.(string)
		fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(href))
		children()
		b.WriteString("</a>")
	case "img":
		url, _ := n.Attr("url")
		src, _ := url.(string)
		fmt.Fprintf(b, `<img src="%s" alt="">`+"\n", html.EscapeString(src))
	case "hr":
		b.WriteString("<hr>\n")
	default:
		// lic and unknown containers render their children only.
		children()
	}
}

func renderLeaf(b *strings.Builder, n *doc.Node, opts RenderOptions) {
	suggestions := marks.SuggestionDataList(n)
	if !opts.ShowSuggestions {
		for _, data := range suggestions {
			if data.Type == marks.OpInsert {
				return
			}
		}
	}
	if n.Text == "" {
		return
	}

	text := html.EscapeString(n.Text)
	for _, m := range []struct{ key, tag string }{
		{"code", "code"},
		{"strikethrough", "s"},
		{"underline", "u"},
		{"italic", "em"},
		{"bold", "strong"},
		{"subscript", "sub"},
		{"superscript", "sup"},
	} {
		if on, _ := n.Attr(m.key); on == true {
			text = fmt.Sprintf("<%s>%s</%s>", m.tag, text, m.tag)
		}
	}

	if opts.ShowComments {
		var ids []string
		for _, id := range marks.IDsOnLeaf(n) {
			if opts.Highlight == nil || opts.Highlight(id) {
				ids = append(ids, html.EscapeString(string(id)))
			}
		}
		if len(ids) > 0 {
			sort.Strings(ids)
			text = fmt.Sprintf(`<mark class="comment" data-threads="%s">%s</mark>`, strings.Join(ids, " "), text)
		}
	}

	if opts.ShowSuggestions {
		for _, data := range suggestions {
			tag := suggestionTag(data.Type)
			text = fmt.Sprintf(`<%s class="suggestion" data-suggestion="%s">%s</%s>`, tag, html.EscapeString(string(data.ID)), text, tag)
		}
	}
	b.WriteString(text)
}

func suggestionTag(op marks.Op) string {
	switch op {
	case marks.OpInsert:
		return "ins"
	case marks.OpRemove:
		return "del"
	default:
		return "span"
	}
}
