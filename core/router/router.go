package router

import (
	"strings"

	"github.com/searchktools/fast-dispatch/core/middleware"
)

// Route is one registered entry: immutable after registration.
type Route struct {
	Method     string
	Pattern    string
	Handler    middleware.Handler
	Middleware []middleware.Step
}

// node is one position in a method's segment trie. Built once at startup,
// never mutated at request time.
type node struct {
	children map[string]*node // static children keyed by literal segment

	param *node // at most one :param child
	wild  *node // at most one *wildcard child

	// name is the bound parameter name when this node is a param or
	// wildcard child.
	name string

	route *Route
}

// Router resolves (method, path) to a registered route. Static routes (no
// :param or *wildcard segment) live in an exact-match table and resolve in
// O(1) independent of route count; dynamic routes descend a per-method
// segment trie in O(k) where k is the segment count.
type Router struct {
	static map[string]*Route // "METHOD path" -> route
	trees  map[string]*node  // method -> trie root
	routes []*Route          // registration order
}

// New creates an empty router.
func New() *Router {
	return &Router{
		static: make(map[string]*Route, 64),
		trees:  make(map[string]*node, 8),
	}
}

// Add registers a route. Segments starting with ':' are parameter edges; a
// segment starting with '*' is a terminal wildcard edge capturing the
// remaining path (slashes included) under the given name, or "*" when
// unnamed.
//
// Registering a second parameter at the same trie position with a different
// name silently rebinds the name for every route through that position; this
// mirrors last-registration-wins on the exact-match table.
func (r *Router) Add(method, pattern string, handler middleware.Handler, steps ...middleware.Step) *Route {
	if pattern == "" || pattern[0] != '/' {
		panic("router: pattern must begin with '/'")
	}

	route := &Route{
		Method:     method,
		Pattern:    pattern,
		Handler:    handler,
		Middleware: steps,
	}
	r.routes = append(r.routes, route)

	if !strings.ContainsAny(pattern, ":*") {
		r.static[method+" "+pattern] = route
		return route
	}

	n := r.trees[method]
	if n == nil {
		n = &node{}
		r.trees[method] = n
	}

	segs := strings.Split(pattern[1:], "/")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		switch seg[0] {
		case ':':
			if n.param == nil {
				n.param = &node{}
			}
			n = n.param
			n.name = seg[1:]
		case '*':
			if i != len(segs)-1 {
				panic("router: wildcard is only allowed in the last segment")
			}
			if n.wild == nil {
				n.wild = &node{}
			}
			n = n.wild
			if name := seg[1:]; name != "" {
				n.name = name
			} else {
				n.name = "*"
			}
			n.route = route
			return route
		default:
			if n.children == nil {
				n.children = make(map[string]*node, 4)
			}
			child := n.children[seg]
			if child == nil {
				child = &node{}
				n.children[seg] = child
			}
			n = child
		}
	}
	n.route = route
	return route
}

// Match resolves method and url to a route and its bound parameters, or
// (nil, nil) on a miss. Any query suffix is stripped first.
//
// The exact-match table is consulted before the trie. Trie descent prefers,
// at every node, the exact static child, then the parameter child, then the
// wildcard child. There is no backtracking: once a branch is chosen a
// sibling branch is never revisited even if the chosen branch dead-ends.
// That tie-break bounds match cost to the path length. A wildcard consumes
// the whole remaining path at once and terminates descent.
func (r *Router) Match(method, url string) (*Route, map[string]string) {
	path := url
	if qi := strings.IndexByte(url, '?'); qi >= 0 {
		path = url[:qi]
	}

	if route, ok := r.static[method+" "+path]; ok {
		return route, nil
	}

	n := r.trees[method]
	if n == nil {
		return nil, nil
	}

	var params map[string]string

	pos := 0
	if len(path) > 0 && path[0] == '/' {
		pos = 1
	}
	for pos < len(path) {
		end := strings.IndexByte(path[pos:], '/')
		if end < 0 {
			end = len(path)
		} else {
			end += pos
		}
		seg := path[pos:end]
		if seg == "" {
			pos = end + 1
			continue
		}

		if child, ok := n.children[seg]; ok {
			n = child
		} else if n.param != nil {
			if params == nil {
				params = make(map[string]string, 4)
			}
			params[n.param.name] = seg
			n = n.param
		} else if n.wild != nil {
			if params == nil {
				params = make(map[string]string, 1)
			}
			params[n.wild.name] = path[pos:]
			return n.wild.route, params
		} else {
			return nil, nil
		}

		pos = end + 1
	}

	if n.route != nil {
		return n.route, params
	}
	return nil, nil
}

// Routes returns every registered route in registration order.
func (r *Router) Routes() []*Route {
	return r.routes
}
