package server

import (
	"path/filepath"
	"testing"
)

func TestSiteLookup(t *testing.T) {
	root := writeSite(t, map[string]string{
		"index.asp":        "",
		"about.ASP":        "",
		"style.css":        "",
		"docs/default.asp": "",
		"docs/index.asp":   "",
		"empty/readme.txt": "",
	})
	st := &site{
		root:             root,
		extensions:       []string{".asp"},
		defaultDocuments: []string{"default.asp", "index.asp"},
	}

	tests := []struct {
		path    string
		file    string
		wantDir bool
		ok      bool
	}{
		{"/", "index.asp", false, true},
		{"/index.asp", "index.asp", false, true},
		{"/about.ASP", "about.ASP", false, true},
		{"/docs", "docs/default.asp", true, true},
		{"/docs/", "docs/default.asp", false, true},
		{"/style.css", "", false, false},
		{"/empty/", "", false, false},
		{"/missing.asp", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			file, dir, ok := st.lookup(tt.path)
			if ok != tt.ok || dir != tt.wantDir {
				t.Fatalf("lookup(%q) = %q, %v, %v", tt.path, file, dir, ok)
			}
			if tt.ok && file != filepath.Join(root, filepath.FromSlash(tt.file)) {
				t.Errorf("file = %q, want %s", file, tt.file)
			}
		})
	}
}

func TestContainsPathTraversal(t *testing.T) {
	tests := map[string]bool{
		"/a/b.asp":     false,
		"/a/../b.asp":  true,
		"/..":          true,
		"/a..b/c.asp":  false,
		"/a/..hidden/": false,
	}
	for path, want := range tests {
		if got := containsPathTraversal(path); got != want {
			t.Errorf("containsPathTraversal(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestContainsDotfile(t *testing.T) {
	tests := map[string]bool{
		"/index.asp":       false,
		"/.env":            true,
		"/.git/config":     true,
		"/a/.hidden/x.asp": true,
		"/a.b/c.asp":       false,
	}
	for path, want := range tests {
		if got := containsDotfile(path); got != want {
			t.Errorf("containsDotfile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSiteIsDenied(t *testing.T) {
	st := &site{denyExtensions: []string{".inc"}}
	tests := map[string]bool{
		"/inc/header.inc": true,
		"/HEADER.INC":     true,
		"/secret.inc/":    true,
		"/page.asp":       false,
		"/style.css":      false,
		"/inc/":           false,
	}
	for path, want := range tests {
		if got := st.isDenied(path); got != want {
			t.Errorf("isDenied(%q) = %v, want %v", path, got, want)
		}
	}
}
