package scripts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

// Marker attributes tag the script elements the loader owns.
const (
	AttrCategory = "data-consent-category"
	AttrProvider = "data-consent-provider"
)

// Document is the script-loading area the loader reconciles. Only elements
// carrying both marker attributes are visible through it.
type Document interface {
	Has(h Handle) bool
	Insert(h Handle, p Provider) error
	Remove(h Handle)
	Handles() []Handle
}

// HTMLDocument keeps managed scripts inside an HTML <head>.
type HTMLDocument struct {
	mu   sync.Mutex
	root *html.Node
	head *html.Node
}

// NewHTMLDocument returns an empty standalone <head>.
func NewHTMLDocument() *HTMLDocument {
	head := &html.Node{Type: html.ElementNode, Data: "head", DataAtom: atom.Head}
	return &HTMLDocument{root: head, head: head}
}

// ParseHTMLDocument parses a full page and manages its <head>. Scripts
// already in the page without markers are left alone.
func ParseHTMLDocument(r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	head := findElement(root, atom.Head)
	if head == nil {
		return nil, errors.New("html document has no head")
	}
	return &HTMLDocument{root: root, head: head}, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func handleOf(n *html.Node) (Handle, bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Script {
		return Handle{}, false
	}
	category, ok := attr(n, AttrCategory)
	if !ok {
		return Handle{}, false
	}
	provider, ok := attr(n, AttrProvider)
	if !ok {
		return Handle{}, false
	}
	return Handle{Category: models.Category(category), ProviderID: provider}, true
}

func (d *HTMLDocument) Has(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.head.FirstChild; c != nil; c = c.NextSibling {
		if got, ok := handleOf(c); ok && got == h {
			return true
		}
	}
	return false
}

func (d *HTMLDocument) Insert(h Handle, p Provider) error {
	if p.Src == "" {
		return fmt.Errorf("script %s has no src", h)
	}
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "src", Val: p.Src},
			{Key: AttrCategory, Val: string(h.Category)},
			{Key: AttrProvider, Val: h.ProviderID},
		},
	}
	if p.Async {
		n.Attr = append(n.Attr, html.Attribute{Key: "async"})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.head.AppendChild(n)
	return nil
}

func (d *HTMLDocument) Remove(h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var doomed []*html.Node
	for c := d.head.FirstChild; c != nil; c = c.NextSibling {
		if got, ok := handleOf(c); ok && got == h {
			doomed = append(doomed, c)
		}
	}
	for _, n := range doomed {
		d.head.RemoveChild(n)
	}
}

func (d *HTMLDocument) Handles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Handle
	for c := d.head.FirstChild; c != nil; c = c.NextSibling {
		if h, ok := handleOf(c); ok {
			out = append(out, h)
		}
	}
	return out
}

// Render writes the managed document as HTML.
func (d *HTMLDocument) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

func (d *HTMLDocument) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}
