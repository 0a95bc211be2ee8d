package spider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iswhat/raytv/sitereg"
)

// WHAT: the three descriptor shapes resolve to program bytes: inline text,
// data URI (plain and base64), and an HTTP endpoint with site headers applied.
func TestResolver_Shapes(t *testing.T) {
	r := NewResolver(ResolverConfig{})
	ctx := context.Background()

	got, err := r.Resolve(ctx, &sitereg.Site{Key: "inline", API: "function x() {}"})
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if string(got) != "function x() {}" {
		t.Fatalf("inline = %q", got)
	}

	got, err = r.Resolve(ctx, &sitereg.Site{Key: "plain", API: "data:text/plain,hello"})
	if err != nil {
		t.Fatalf("data plain: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("data plain = %q", got)
	}

	got, err = r.Resolve(ctx, &sitereg.Site{Key: "b64", API: "data:text/plain;base64,aGVsbG8="})
	if err != nil {
		t.Fatalf("data base64: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("data base64 = %q", got)
	}
}

func TestResolver_HTTPWithHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Token") != "abc" {
			http.Error(w, "missing token", http.StatusForbidden)
			return
		}
		if req.Header.Get("Cookie") != "session=1" {
			http.Error(w, "missing cookie", http.StatusForbidden)
			return
		}
		w.Write([]byte("program-body"))
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{})
	got, err := r.Resolve(context.Background(), &sitereg.Site{
		Key:     "remote",
		API:     srv.URL + "/plugin.js",
		Headers: map[string]string{"X-Token": "abc"},
		Cookie:  "session=1",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != "program-body" {
		t.Fatalf("got %q", got)
	}
}

func TestResolver_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{})
	_, err := r.Resolve(context.Background(), &sitereg.Site{Key: "remote", API: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("err = %v, want http 404", err)
	}
}
