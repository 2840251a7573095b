// Package markdown renders reddit-flavoured markdown into HTML safe to embed
// in a page.
package markdown

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	escapedSpoiler = regexp.MustCompile(`&gt;!(.+?)!&lt;`)
	spoiler        = regexp.MustCompile(`>!(.+?)!<`)
	superGroup     = regexp.MustCompile(`\^\(([^)]+)\)`)
	superWord      = regexp.MustCompile(`\^(\w+)`)
)

// Renderer converts markdown bodies. It is safe for concurrent use.
type Renderer struct {
	converter goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		converter: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
				gmhtml.WithUnsafe(),
			),
		),
	}
}

// Render returns sanitized HTML for text. Empty input renders as "".
func (r *Renderer) Render(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := r.converter.Convert([]byte(preprocess(text)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return sanitize(buf.String())
}

// preprocess rewrites reddit-only syntax into inline HTML before parsing.
func preprocess(text string) string {
	text = escapedSpoiler.ReplaceAllString(text, `<span class="spoiler">$1</span>`)
	text = spoiler.ReplaceAllString(text, `<span class="spoiler">$1</span>`)
	text = superGroup.ReplaceAllString(text, `<sup>$1</sup>`)
	text = superWord.ReplaceAllString(text, `<sup>$1</sup>`)
	return text
}

// dropped elements are removed with their content. Any other element outside
// allowedAttrs is unwrapped and its children kept.
var dropped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Frame: true,
	atom.Object: true, atom.Embed: true, atom.Applet: true, atom.Meta: true,
	atom.Link: true, atom.Base: true, atom.Svg: true, atom.Math: true,
	atom.Template: true, atom.Noscript: true, atom.Textarea: true, atom.Select: true,
	atom.Button: true, atom.Title: true, atom.Head: true,
}

// allowedAttrs lists the elements kept in rendered output and the attributes
// each may carry.
var allowedAttrs = map[atom.Atom][]string{
	atom.A: {"href", "title"}, atom.Img: {"src", "alt", "title", "width", "height"},
	atom.P: nil, atom.Br: nil, atom.Hr: nil, atom.Blockquote: nil,
	atom.H1: nil, atom.H2: nil, atom.H3: nil, atom.H4: nil, atom.H5: nil, atom.H6: nil,
	atom.Em: nil, atom.Strong: nil, atom.B: nil, atom.I: nil, atom.U: nil,
	atom.S: nil, atom.Del: nil, atom.Strike: nil, atom.Sup: nil, atom.Sub: nil,
	atom.Code: {"class"}, atom.Pre: nil, atom.Span: {"class"},
	atom.Ul: nil, atom.Ol: {"start"}, atom.Li: nil,
	atom.Table: nil, atom.Thead: nil, atom.Tbody: nil, atom.Tfoot: nil, atom.Tr: nil,
	atom.Th: {"style", "align"}, atom.Td: {"style", "align"},
	atom.Input: {"type", "checked", "disabled"},
}

var (
	alignStyle = regexp.MustCompile(`^text-align:\s*(left|right|center);?$`)
	safeClass  = regexp.MustCompile(`^[A-Za-z0-9_ -]+$`)
)

// sanitize keeps allowlisted elements and attributes only, then decorates
// links and blockquotes.
func sanitize(fragment string) (string, error) {
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return "", fmt.Errorf("failed to parse html fragment: %w", err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			switch c.Type {
			case html.TextNode:
				c = next
				continue
			case html.ElementNode:
			default:
				n.RemoveChild(c)
				c = next
				continue
			}

			allowed, ok := allowedAttrs[c.DataAtom]
			if dropped[c.DataAtom] || (c.DataAtom == atom.Input && !isCheckbox(c)) {
				n.RemoveChild(c)
				c = next
				continue
			}
			if !ok {
				first := c.FirstChild
				for gc := c.FirstChild; gc != nil; {
					gcNext := gc.NextSibling
					c.RemoveChild(gc)
					n.InsertBefore(gc, c)
					gc = gcNext
				}
				n.RemoveChild(c)
				if first != nil {
					next = first
				}
				c = next
				continue
			}

			c.Attr = cleanAttrs(c.Attr, allowed)
			switch c.DataAtom {
			case atom.A:
				setAttr(c, "target", "_blank")
				setAttr(c, "rel", "noopener noreferrer")
			case atom.Blockquote:
				setAttr(c, "class", "reddit-quote")
			case atom.Input:
				setAttr(c, "disabled", "")
			}
			walk(c)
			c = next
		}
	}
	walk(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("failed to render html: %w", err)
		}
	}
	return buf.String(), nil
}

func cleanAttrs(attrs []html.Attribute, allowed []string) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		if a.Namespace != "" {
			continue
		}
		key := strings.ToLower(a.Key)
		if !slices.Contains(allowed, key) {
			continue
		}
		switch key {
		case "href", "src":
			u, ok := safeURL(a.Val)
			if !ok {
				continue
			}
			a.Val = u
		case "style":
			if !alignStyle.MatchString(strings.TrimSpace(a.Val)) {
				continue
			}
		case "class":
			if !safeClass.MatchString(a.Val) {
				continue
			}
		}
		a.Key = key
		kept = append(kept, a)
	}
	return kept
}

// safeURL accepts relative URLs and http, https or mailto ones. Browsers
// ignore whitespace and control characters inside a scheme, so they are
// stripped before the scheme is read.
func safeURL(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", false
	}
	u, err := url.Parse(cleaned)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return cleaned, true
	default:
		return "", false
	}
}

func isCheckbox(n *html.Node) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "type") {
			return strings.EqualFold(strings.TrimSpace(a.Val), "checkbox")
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// DecodeEntities unescapes the HTML entities reddit puts in its *_html fields.
func DecodeEntities(text string) string {
	if text == "" {
		return ""
	}
	return html.UnescapeString(text)
}
