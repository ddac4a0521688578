package htmldoc

import (
	"context"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

const sourceDelegated = "delegated-click"

// Element is a snapshot of a node taken when it was queried.
type Element struct {
	doc  *Document
	node *html.Node
	key  string

	tag   string
	attrs []html.Attribute
	text  string
}

var _ dom.Element = (*Element)(nil)

// wrapSnapshot requires d.mu.
func (d *Document) wrapSnapshot(n *html.Node, key string) *Element {
	return &Element{
		doc:   d,
		node:  n,
		key:   key,
		tag:   strings.ToLower(n.Data),
		attrs: slices.Clone(n.Attr),
		text:  goquery.NewDocumentFromNode(n).Text(),
	}
}

func (e *Element) Key() string { return e.key }
func (e *Element) Tag() string { return e.tag }
func (e *Element) Text() string {
	return e.text
}

func (e *Element) Attr(name string) string {
	for _, a := range e.attrs {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}

func (e *Element) HasClass(name string) bool {
	return slices.Contains(strings.Fields(e.Attr("class")), name)
}

func (e *Element) Closest(ctx context.Context, selector string) (dom.Element, error) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.selection(e.node, e.key)
	if err != nil {
		return nil, err
	}
	return d.first(sel.Closest(selector)), nil
}

func (e *Element) QueryFirst(ctx context.Context, selector string) (dom.Element, error) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.selection(e.node, e.key)
	if err != nil {
		return nil, err
	}
	return d.first(sel.Find(selector)), nil
}

func (e *Element) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.selection(e.node, e.key)
	if err != nil {
		return nil, err
	}
	return d.all(sel.Find(selector)), nil
}

func (e *Element) SetAttr(ctx context.Context, name, value string) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.selection(e.node, e.key)
	if err != nil {
		return err
	}
	sel.SetAttr(name, value)
	return nil
}

// DispatchClick models a bubbling, cancelable click. The delegated listener
// on the root runs first; direct listeners on the capture path run next, from
// the outermost ancestor to the target. A listener suppresses only while the
// document is armed, and suppression stops every later listener.
func (e *Element) DispatchClick(ctx context.Context) error {
	d := e.doc
	d.mu.Lock()
	sel, err := d.selection(e.node, e.key)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	var signals []dom.Signal
	prevented := false

	if d.rule != nil {
		candidate := sel
		if c := d.rule.Rule().Container; c != "" {
			candidate = sel.Closest(c)
		}
		if candidate.Length() > 0 {
			control := d.wrap(candidate.Nodes[0])
			if d.rule.Match(control) {
				signals = append(signals, dom.Signal{
					Kind:       dom.SignalClick,
					Source:     sourceDelegated,
					Target:     control,
					Suppressed: d.armed,
				})
				prevented = d.armed
			}
		}
	}

	if !prevented {
		var path []*html.Node
		for n := e.node; n != nil; n = n.Parent {
			path = append(path, n)
		}
	capture:
		for i := len(path) - 1; i >= 0; i-- {
			for _, source := range d.bound[path[i]] {
				signals = append(signals, dom.Signal{
					Kind:       dom.SignalClick,
					Source:     source,
					Target:     d.wrap(path[i]),
					Suppressed: d.armed,
				})
				if d.armed {
					prevented = true
					break capture
				}
			}
		}
	}

	d.events = append(d.events, Event{Type: "click", Target: e.key, Prevented: prevented})
	d.mu.Unlock()

	for _, s := range signals {
		d.emit(s)
	}
	return nil
}

func (e *Element) DispatchKey(ctx context.Context, key string) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.selection(e.node, e.key); err != nil {
		return err
	}
	d.events = append(d.events,
		Event{Type: "keydown", Target: e.key, Key: key},
		Event{Type: "keyup", Target: e.key, Key: key},
	)
	return nil
}

// BindClick appends a listener every time it is called, as addEventListener
// with a fresh closure would. Callers guard against rebinding.
func (e *Element) BindClick(ctx context.Context, source string) error {
	d := e.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.selection(e.node, e.key); err != nil {
		return err
	}
	d.bound[e.node] = append(d.bound[e.node], source)
	return nil
}
