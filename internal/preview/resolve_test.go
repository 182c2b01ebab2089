package preview

import (
	"testing"
	"testing/fstest"
)

func TestResolvePath(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":            {Data: []byte("root")},
		"docs/index.html":       {Data: []byte("docs")},
		"assets/app.js":         {Data: []byte("js")},
		"assets/vendor/pdf.mjs": {Data: []byte("mjs")},
		"LICENSE":               {Data: []byte("mit")},
	}

	tests := []struct {
		in       string
		file     string
		redirect string
		ok       bool
	}{
		{"/", "index.html", "", true},
		{"", "index.html", "", true},
		{"/docs/", "docs/index.html", "", true},
		{"/docs", "", "/docs/", true},
		{"/assets/app.js", "assets/app.js", "", true},
		{"//assets//vendor/pdf.mjs", "assets/vendor/pdf.mjs", "", true},
		{"/LICENSE", "LICENSE", "", true},
		{"/assets/", "assets/index.html", "", false},
		{"/missing", "", "", false},
		{"/assets/../index.html", "", "", false},
		{"/assets\\app.js", "", "", false},
		{"/index.html\x00", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			file, redirect, ok := resolvePath(tt.in, fsys, "index.html")
			if ok != tt.ok || redirect != tt.redirect || (tt.ok && file != tt.file) {
				t.Fatalf("resolvePath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.in, file, redirect, ok, tt.file, tt.redirect, tt.ok)
			}
		})
	}
}

func TestSpaRoute(t *testing.T) {
	for p, want := range map[string]bool{
		"/":               true,
		"/split/range":    true,
		"/v1.2/page":      true,
		"/robots.txt":     false,
		"/assets/chunk":   false,
		"/assets/x.js":    false,
		"/deep/image.png": false,
	} {
		if got := spaRoute(p); got != want {
			t.Errorf("spaRoute(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestCacheControlForFile(t *testing.T) {
	o := &Options{}
	o.setDefaults()
	tests := map[string]string{
		"index.html":           "no-cache",
		"docs/index.html":      "no-cache",
		"LICENSE":              "no-cache",
		"assets/index-3f2a.js": "public, max-age=31536000, immutable",
		"assets/logo.svg":      "public, max-age=31536000, immutable",
		"favicon.svg":          "no-cache",
	}
	for name, want := range tests {
		if got := cacheControlForFile(name, o); got != want {
			t.Errorf("cacheControlForFile(%q) = %q, want %q", name, got, want)
		}
	}
}
