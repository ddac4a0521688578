package cdp

import (
	"context"
	"slices"
	"strings"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

// element is a node snapshot plus the key the helper stamped on it.
type element struct {
	doc  *Document
	snap snapshot
}

var _ dom.Element = (*element)(nil)

func newElement(d *Document, s snapshot) *element {
	return &element{doc: d, snap: s}
}

func (e *element) Key() string             { return e.snap.Key }
func (e *element) Tag() string             { return e.snap.Tag }
func (e *element) Text() string            { return e.snap.Text }
func (e *element) Attr(name string) string { return e.snap.Attrs[name] }

func (e *element) HasClass(name string) bool {
	return slices.Contains(strings.Fields(e.Attr("class")), name)
}

func (e *element) Closest(ctx context.Context, selector string) (dom.Element, error) {
	return first(e.doc.query(ctx, "closest", e.snap.Key, selector, false))
}

func (e *element) QueryFirst(ctx context.Context, selector string) (dom.Element, error) {
	return first(e.doc.query(ctx, "query", e.snap.Key, selector, false))
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	return e.doc.query(ctx, "query", e.snap.Key, selector, true)
}

// attached runs a helper method that reports false when the node is gone.
func (e *element) attached(ctx context.Context, method string, args ...any) error {
	ok, err := e.doc.callBool(ctx, method, append([]any{e.snap.Key}, args...)...)
	if err != nil {
		return err
	}
	if !ok {
		return dom.NewElementNotFoundError(e.snap.Key)
	}
	return nil
}

func (e *element) SetAttr(ctx context.Context, name, value string) error {
	return e.attached(ctx, "setAttr", name, value)
}

func (e *element) DispatchClick(ctx context.Context) error {
	return e.attached(ctx, "click")
}

func (e *element) DispatchKey(ctx context.Context, key string) error {
	return e.attached(ctx, "key", key)
}

func (e *element) BindClick(ctx context.Context, source string) error {
	return e.attached(ctx, "bindClick", source)
}
