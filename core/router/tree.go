package router

// Radix tree derived from armon/go-radix (MIT), reworked as an HTTP
// routing tree with per-method endpoints and conflict detection.

import (
	"fmt"
	"sort"
	"strings"
)

type nodeKind uint8

const (
	kindStatic   nodeKind = iota // /home
	kindParam                    // /{user}
	kindCatchAll                 // /api/*
)

// captures accumulates raw parameter values during traversal. Keys are
// attached from the endpoint's template once a leaf is reached, so the
// pairs come out in template order.
type captures struct {
	values []string
}

type node[T any] struct {
	// prefix is the common prefix this node consumes
	prefix string

	// children grouped by kind; traversal order is static, param, catch-all
	children [kindCatchAll + 1]nodes[T]

	// endpoints registered on the leaf, keyed by HTTP method
	endpoints map[string]*endpoint[T]

	// first byte of the prefix
	label byte

	// tail is the delimiter byte following a param segment
	tail byte

	kind nodeKind
}

type endpoint[T any] struct {
	value     T
	pattern   string
	paramKeys []string
}

func (n *node[T]) insert(method, pattern string, value T) error {
	keys, err := templateParamKeys(pattern)
	if err != nil {
		return err
	}

	search := pattern
	cur := n
	for {
		if len(search) == 0 {
			return cur.setEndpoint(method, pattern, keys, value)
		}

		label := search[0]
		var segKind nodeKind
		var segTail byte
		var segEnd int
		if label == '{' || label == '*' {
			segKind, _, segTail, _, segEnd, err = nextSegment(search)
			if err != nil {
				return err
			}
		}

		parent := cur
		cur = cur.getEdge(segKind, label, segTail)

		// No matching edge: attach the remainder as a new branch.
		if cur == nil {
			child := &node[T]{label: label, tail: segTail, prefix: search}
			leaf, err := parent.addChild(child, search)
			if err != nil {
				return err
			}
			return leaf.setEndpoint(method, pattern, keys, value)
		}

		if cur.kind > kindStatic {
			// Param and catch-all segments are shared between templates;
			// consume the segment and keep walking.
			search = search[segEnd:]
			continue
		}

		common := longestPrefix(search, cur.prefix)
		if common == len(cur.prefix) {
			search = search[common:]
			continue
		}

		// Split the static node at the divergence point.
		child := &node[T]{kind: kindStatic, prefix: search[:common]}
		parent.replaceChild(search[0], segTail, child)

		cur.label = cur.prefix[common]
		cur.prefix = cur.prefix[common:]
		if _, err := child.addChild(cur, cur.prefix); err != nil {
			return err
		}

		search = search[common:]
		if len(search) == 0 {
			return child.setEndpoint(method, pattern, keys, value)
		}

		sub := &node[T]{kind: kindStatic, label: search[0], prefix: search}
		leaf, err := child.addChild(sub, search)
		if err != nil {
			return err
		}
		return leaf.setEndpoint(method, pattern, keys, value)
	}
}

// addChild appends child under n, splitting the child's prefix at the
// first wildcard segment if one is embedded. Returns the node that should
// carry the endpoint for the full prefix.
func (n *node[T]) addChild(child *node[T], prefix string) (*node[T], error) {
	search := prefix
	leaf := child

	segKind, _, segTail, segStart, segEnd, err := nextSegment(search)
	if err != nil {
		return nil, err
	}

	switch {
	case segKind == kindStatic:
		// Entire prefix is static, nothing to split.

	case segStart == 0:
		// Prefix begins with a wildcard segment.
		child.kind = segKind
		child.tail = segTail

		if segKind == kindCatchAll {
			segStart = len(search)
		} else {
			segStart = segEnd
		}

		if segStart != len(search) {
			// Static remainder follows the wildcard; adjacent wildcards
			// are impossible, so the next node is static.
			search = search[segStart:]
			sub := &node[T]{kind: kindStatic, label: search[0], prefix: search}
			leaf, err = child.addChild(sub, search)
			if err != nil {
				return nil, err
			}
		}

	default:
		// Static head, wildcard further down the prefix.
		child.kind = kindStatic
		child.prefix = search[:segStart]

		search = search[segStart:]
		sub := &node[T]{kind: segKind, label: search[0], tail: segTail}
		leaf, err = child.addChild(sub, search)
		if err != nil {
			return nil, err
		}
	}

	n.children[child.kind] = append(n.children[child.kind], child)
	n.children[child.kind].sort()
	return leaf, nil
}

func (n *node[T]) replaceChild(label, tail byte, child *node[T]) {
	group := n.children[child.kind]
	for i := range group {
		if group[i].label == label && group[i].tail == tail {
			group[i] = child
			group[i].label = label
			group[i].tail = tail
			return
		}
	}
	panic("router: replacing missing child")
}

func (n *node[T]) getEdge(kind nodeKind, label, tail byte) *node[T] {
	for _, c := range n.children[kind] {
		if c.label == label && c.tail == tail {
			return c
		}
	}
	return nil
}

func (n *node[T]) setEndpoint(method, pattern string, paramKeys []string, value T) error {
	if n.endpoints == nil {
		n.endpoints = make(map[string]*endpoint[T])
	}
	if ep, ok := n.endpoints[method]; ok {
		return fmt.Errorf("%w: %s %q clashes with %q", ErrRouteConflict, method, pattern, ep.pattern)
	}
	n.endpoints[method] = &endpoint[T]{value: value, pattern: pattern, paramKeys: paramKeys}
	return nil
}

// find walks the tree in specificity order (static, then param, then
// wildcard) and returns the first leaf matching the path, regardless of
// method. The caller checks the leaf's endpoint set and produces a 405
// with the Allow set when the method is absent.
func (n *node[T]) find(path string, caps *captures) *node[T] {
	for k := range n.children {
		kind := nodeKind(k)
		group := n.children[kind]
		if len(group) == 0 {
			continue
		}

		var label byte
		if path != "" {
			label = path[0]
		}

		switch kind {
		case kindStatic:
			next := group.findEdge(label)
			if next == nil || !strings.HasPrefix(path, next.prefix) {
				continue
			}
			rest := path[len(next.prefix):]
			if rest == "" && next.isLeaf() {
				return next
			}
			if fin := next.find(rest, caps); fin != nil {
				return fin
			}

		case kindParam:
			if path == "" {
				continue
			}
			for _, next := range group {
				// tail is the delimiter that terminates the segment
				p := strings.IndexByte(path, next.tail)
				if p < 0 {
					if next.tail == '/' {
						p = len(path)
					} else {
						continue
					}
				}
				if strings.IndexByte(path[:p], '/') != -1 {
					// never match across path segments
					continue
				}

				prev := len(caps.values)
				caps.values = append(caps.values, path[:p])
				rest := path[p:]

				if rest == "" && next.isLeaf() {
					return next
				}
				if fin := next.find(rest, caps); fin != nil {
					return fin
				}

				caps.values = caps.values[:prev]
			}

		default: // catch-all, lowest priority
			next := group[0]
			if next.isLeaf() {
				caps.values = append(caps.values, path)
				return next
			}
		}
	}

	return nil
}

func (n *node[T]) isLeaf() bool {
	return len(n.endpoints) > 0
}

// nextSegment parses the next template segment and returns its kind, the
// parameter key, the delimiter byte that follows a param, and the start
// and end offsets of the wildcard within the pattern.
func nextSegment(pattern string) (kind nodeKind, key string, tail byte, start, end int, err error) {
	ps := strings.IndexByte(pattern, '{')
	ws := strings.IndexByte(pattern, '*')

	if ps < 0 && ws < 0 {
		return kindStatic, "", 0, 0, len(pattern), nil
	}

	if ps >= 0 && ws >= 0 && ws < ps {
		return 0, "", 0, 0, 0, fmt.Errorf("%w: %q", ErrCatchAllPosition, pattern)
	}

	if ps >= 0 {
		pe := strings.IndexByte(pattern[ps:], '}')
		if pe < 0 {
			return 0, "", 0, 0, 0, fmt.Errorf("%w: unterminated parameter in %q", ErrInvalidPattern, pattern)
		}
		pe += ps

		key = pattern[ps+1 : pe]
		if key == "" {
			return 0, "", 0, 0, 0, fmt.Errorf("%w: empty parameter name in %q", ErrInvalidPattern, pattern)
		}

		tail = '/'
		if pe+1 < len(pattern) {
			tail = pattern[pe+1]
		}
		return kindParam, key, tail, ps, pe + 1, nil
	}

	if ws != len(pattern)-1 {
		return 0, "", 0, 0, 0, fmt.Errorf("%w: %q", ErrCatchAllPosition, pattern)
	}
	return kindCatchAll, "*", 0, ws, len(pattern), nil
}

// templateParamKeys extracts parameter names in template order, rejecting
// duplicates.
func templateParamKeys(pattern string) ([]string, error) {
	var keys []string
	rest := pattern
	for {
		kind, key, _, _, end, err := nextSegment(rest)
		if err != nil {
			return nil, err
		}
		if kind == kindStatic {
			return keys, nil
		}
		for _, k := range keys {
			if k == key {
				return nil, fmt.Errorf("%w: %q in %q", ErrDuplicateParam, key, pattern)
			}
		}
		keys = append(keys, key)
		rest = rest[end:]
	}
}

func longestPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

type nodes[T any] []*node[T]

func (ns nodes[T]) sort() {
	sort.Slice(ns, func(i, j int) bool { return ns[i].label < ns[j].label })
	ns.tailSort()
}

// tailSort pushes param nodes with '/' tails to the end of the group so
// more specific delimiters are tried first.
func (ns nodes[T]) tailSort() {
	for i := len(ns) - 1; i >= 0; i-- {
		if ns[i].kind > kindStatic && ns[i].tail == '/' {
			ns[i], ns[len(ns)-1] = ns[len(ns)-1], ns[i]
			return
		}
	}
}

func (ns nodes[T]) findEdge(label byte) *node[T] {
	num := len(ns)
	if num == 0 {
		return nil
	}
	i, j := 0, num-1
	for i <= j {
		idx := i + (j-i)/2
		switch {
		case label > ns[idx].label:
			i = idx + 1
		case label < ns[idx].label:
			j = idx - 1
		default:
			return ns[idx]
		}
	}
	return nil
}
