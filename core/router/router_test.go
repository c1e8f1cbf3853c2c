package router

import (
	"testing"

	fhttp "github.com/searchktools/fast-dispatch/core/http"
)

func noop(*fhttp.Context) {}

// TestStaticRoutes tests exact-match resolution for static patterns
func TestStaticRoutes(t *testing.T) {
	r := New()
	r.Add("GET", "/", noop)
	r.Add("GET", "/hello", noop)
	r.Add("GET", "/hello/world", noop)
	r.Add("POST", "/hello", noop)

	tests := []struct {
		method      string
		path        string
		shouldMatch bool
	}{
		{"GET", "/", true},
		{"GET", "/hello", true},
		{"GET", "/hello/world", true},
		{"POST", "/hello", true},
		{"GET", "/notfound", false},
		{"DELETE", "/hello", false},
	}

	for _, tt := range tests {
		route, params := r.Match(tt.method, tt.path)
		if (route != nil) != tt.shouldMatch {
			t.Errorf("%s %s: expected match=%v, got match=%v", tt.method, tt.path, tt.shouldMatch, route != nil)
		}
		if params != nil {
			t.Errorf("%s %s: static match bound params %v", tt.method, tt.path, params)
		}
	}
}

// TestQueryStrip tests that the query suffix never participates in matching
func TestQueryStrip(t *testing.T) {
	r := New()
	r.Add("GET", "/search", noop)
	r.Add("GET", "/users/:id", noop)

	if route, _ := r.Match("GET", "/search?q=go&page=2"); route == nil {
		t.Error("static route with query suffix did not match")
	}
	route, params := r.Match("GET", "/users/42?fields=name")
	if route == nil {
		t.Fatal("param route with query suffix did not match")
	}
	if params["id"] != "42" {
		t.Errorf("expected id=42, got %q", params["id"])
	}
}

// TestStaticOverParam tests the static > param tie-break
func TestStaticOverParam(t *testing.T) {
	r := New()
	exact := r.Add("GET", "/user/admin", noop)
	param := r.Add("GET", "/user/:id", noop)

	route, params := r.Match("GET", "/user/admin")
	if route != exact {
		t.Fatalf("expected exact route, got %+v", route)
	}
	if len(params) != 0 {
		t.Errorf("exact match bound params %v", params)
	}

	route, params = r.Match("GET", "/user/123")
	if route != param {
		t.Fatalf("expected param route, got %+v", route)
	}
	if params["id"] != "123" {
		t.Errorf("expected id=123, got %q", params["id"])
	}
}

// TestNoBacktracking tests that a dead-ended static branch is never abandoned
// for a sibling param branch
func TestNoBacktracking(t *testing.T) {
	r := New()
	r.Add("GET", "/a/:x/c", noop)
	r.Add("GET", "/a/b/d", noop)

	// "b" descends the static branch, which has no "c" child. The param
	// branch would match, but the router must not revisit it.
	if route, _ := r.Match("GET", "/a/b/c"); route != nil {
		t.Errorf("expected miss for /a/b/c, matched %s", route.Pattern)
	}

	// Sanity: both registered routes still resolve.
	if route, _ := r.Match("GET", "/a/z/c"); route == nil {
		t.Error("param branch did not match /a/z/c")
	}
	if route, _ := r.Match("GET", "/a/b/d"); route == nil {
		t.Error("static branch did not match /a/b/d")
	}
}

// TestWildcard tests rest-of-path capture, slashes included
func TestWildcard(t *testing.T) {
	r := New()
	r.Add("GET", "/static/*filepath", noop)
	r.Add("GET", "/any/*", noop)

	route, params := r.Match("GET", "/static/css/site/main.css")
	if route == nil {
		t.Fatal("wildcard route did not match")
	}
	if params["filepath"] != "css/site/main.css" {
		t.Errorf("expected filepath=css/site/main.css, got %q", params["filepath"])
	}

	// Unnamed wildcard binds under "*".
	route, params = r.Match("GET", "/any/thing/at/all")
	if route == nil {
		t.Fatal("unnamed wildcard route did not match")
	}
	if params["*"] != "thing/at/all" {
		t.Errorf("expected *=thing/at/all, got %q", params["*"])
	}

	// A wildcard needs at least one segment to consume.
	if route, _ := r.Match("GET", "/static/"); route != nil {
		t.Error("wildcard matched an empty remainder")
	}
}

// TestParamNameRebind tests that a second registration through the same param
// position rebinds the name for all routes through it
func TestParamNameRebind(t *testing.T) {
	r := New()
	r.Add("GET", "/files/:name/meta", noop)
	r.Add("GET", "/files/:id/data", noop)

	_, params := r.Match("GET", "/files/report/meta")
	if params["id"] != "report" {
		t.Errorf("expected rebound name id=report, got params %v", params)
	}
	if _, stale := params["name"]; stale {
		t.Error("stale param name survived rebind")
	}
}

// TestLastRegistrationWins tests duplicate static registration
func TestLastRegistrationWins(t *testing.T) {
	r := New()
	r.Add("GET", "/dup", noop)
	second := r.Add("GET", "/dup", noop)

	if route, _ := r.Match("GET", "/dup"); route != second {
		t.Error("expected the later registration to win")
	}
	if len(r.Routes()) != 2 {
		t.Errorf("expected both registrations listed, got %d", len(r.Routes()))
	}
}

// TestBadPatterns tests registration panics
func TestBadPatterns(t *testing.T) {
	r := New()

	expectPanic := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		fn()
	}

	expectPanic("no leading slash", func() { r.Add("GET", "users", noop) })
	expectPanic("empty pattern", func() { r.Add("GET", "", noop) })
	expectPanic("non-terminal wildcard", func() { r.Add("GET", "/a/*rest/b", noop) })
}

// BenchmarkStaticMatch measures the exact-match table path
func BenchmarkStaticMatch(b *testing.B) {
	r := New()
	r.Add("GET", "/api/v1/users/profile/settings", noop)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Match("GET", "/api/v1/users/profile/settings")
	}
}

// BenchmarkParamMatch measures trie descent with parameter binding
func BenchmarkParamMatch(b *testing.B) {
	r := New()
	r.Add("GET", "/api/users/:id/posts/:post", noop)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Match("GET", "/api/users/1234/posts/5678")
	}
}
