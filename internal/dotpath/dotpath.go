// Package dotpath resolves dotted attribute paths such as
// "reply.observation.dyad.user.username" across an object graph whose links
// may be missing.
package dotpath

import (
	"reflect"
	"strings"
)

// Lookup is either Found(value) or Missing.
type Lookup struct {
	value any
	found bool
}

func Found(v any) Lookup { return Lookup{value: v, found: true} }

var Missing = Lookup{}

func (l Lookup) OK() bool { return l.found }

func (l Lookup) Value() any { return l.value }

// Or returns the found value or def.
func (l Lookup) Or(def any) any {
	if !l.found {
		return def
	}
	return l.value
}

// Node is an entity that exposes named attributes. Computed attributes (what
// would be zero-argument methods) are ordinary cases of Attr.
type Node interface {
	Attr(name string) Lookup
}

// Resolve walks path from root. Any nil link, non-Node intermediate or
// unknown attribute yields Missing.
func Resolve(root any, path string) Lookup {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		if isNil(cur) {
			return Missing
		}
		n, ok := cur.(Node)
		if !ok {
			return Missing
		}
		l := n.Attr(seg)
		if !l.found {
			return Missing
		}
		cur = l.value
	}
	if isNil(cur) {
		return Found(nil)
	}
	return Found(cur)
}

// Value is Resolve with nil for Missing.
func Value(root any, path string) any {
	return Resolve(root, path).Or(nil)
}

// Values resolves every path against root into one flat map keyed by path.
func Values(root any, paths []string) map[string]any {
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		out[p] = Value(root, p)
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
