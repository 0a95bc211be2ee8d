package confparse

import "testing"

// WHAT: entries missing key/name/api are dropped silently; the rest survive.
func TestParse_DropsMalformed(t *testing.T) {
	doc, err := New().Parse([]byte(`{"sites":[
		{"key":"ok","name":"Good","api":"csp_Good"},
		{"key":"","name":"NoKey","api":"x"},
		{"key":"noname","api":"x"},
		{"key":"noapi","name":"NoAPI"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sites) != 1 || doc.Sites[0].Key != "ok" {
		t.Fatalf("sites = %+v, want only 'ok'", doc.Sites)
	}
}

func TestParse_InvalidDocument(t *testing.T) {
	if _, err := New().Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

// WHAT: flags decode from bools, 0/1 ints, and "1" strings alike.
func TestParse_FlexibleFlags(t *testing.T) {
	doc, err := New().Parse([]byte(`{"sites":[
		{"key":"a","name":"A","api":"x","searchable":true,"quickSearch":1,"filterable":"1"},
		{"key":"b","name":"B","api":"x","searchable":0,"filterable":false}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, b := doc.Sites[0], doc.Sites[1]
	if !a.Searchable || !a.QuickSearch || !a.Filterable {
		t.Fatalf("a = %+v, want all flags set", a)
	}
	if b.Searchable || b.Filterable {
		t.Fatalf("b = %+v, want flags clear", b)
	}
}

// WHAT: an object-shaped ext payload is preserved as its JSON text.
func TestParse_ExtObject(t *testing.T) {
	doc, err := New().Parse([]byte(`{"sites":[
		{"key":"a","name":"A","api":"x","ext":{"token":"t1","region":"eu"}},
		{"key":"b","name":"B","api":"x","ext":"plain-string"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Sites[0].Ext != `{"token":"t1","region":"eu"}` {
		t.Fatalf("object ext = %q", doc.Sites[0].Ext)
	}
	if doc.Sites[1].Ext != "plain-string" {
		t.Fatalf("string ext = %q", doc.Sites[1].Ext)
	}
}

// WHAT: markup is stripped from names; HTML descriptions become markdown.
func TestParse_SanitizesHTMLFields(t *testing.T) {
	doc, err := New().Parse([]byte(`{"sites":[
		{"key":"a","name":"<b>Alpha</b><script>x()</script>","api":"x",
		 "desc":"<p>A <strong>fast</strong> source</p>"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := doc.Sites[0]
	if s.Name != "Alpha" {
		t.Fatalf("name = %q, want markup stripped", s.Name)
	}
	if s.Desc != "A **fast** source" {
		t.Fatalf("desc = %q", s.Desc)
	}
}

// WHAT: a wrapper document exposes its referenced URLs.
func TestParse_MultiConfigWrapper(t *testing.T) {
	doc, err := New().Parse([]byte(`{"urls":[
		{"url":"https://cfg.example.com/a.json","name":"A"},
		{"url":"","name":"empty"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.URLs) != 1 || doc.URLs[0] != "https://cfg.example.com/a.json" {
		t.Fatalf("urls = %v", doc.URLs)
	}
}

func TestNormalizeRuntime(t *testing.T) {
	cases := map[string]string{
		"":            "script",
		"JS":          "script",
		"wasm":        "bytecode",
		"lua":         "interpreter",
		"interpreter": "interpreter",
	}
	for in, want := range cases {
		if got := normalizeRuntime(in); got != want {
			t.Errorf("normalizeRuntime(%q) = %q, want %q", in, got, want)
		}
	}
}
