package htmlpage

import (
	"strings"

	"golang.org/x/net/html"
)

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, name) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func root(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// hiddenByStyle looks for display:none or visibility:hidden in an inline style.
func hiddenByStyle(style string) bool {
	s := strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden")
}

// visible reports whether neither n nor an ancestor is hidden. Options inherit the visibility
// of their select.
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if _, ok := attr(cur, "hidden"); ok {
			return false
		}
		if style, ok := attr(cur, "style"); ok && hiddenByStyle(style) {
			return false
		}
		if strings.EqualFold(cur.Data, "template") {
			return false
		}
	}
	return true
}

// selectOption marks opt selected and clears its siblings in the enclosing select.
func selectOption(opt *html.Node) {
	sel := opt.Parent
	for sel != nil && !strings.EqualFold(sel.Data, "select") {
		sel = sel.Parent
	}
	if sel == nil {
		setAttr(opt, "selected", "")
		return
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, "option") {
				removeAttr(c, "selected")
			}
			walk(c)
		}
	}
	walk(sel)
	setAttr(opt, "selected", "")
}
