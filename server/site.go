package server

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// site maps URL paths onto page files under the scripts root.
type site struct {
	root             string
	extensions       []string
	denyExtensions   []string
	defaultDocuments []string
}

// scriptSite returns the page layout described by the scripts config.
func (s *Server) scriptSite() *site {
	return &site{
		root:             s.config.Scripts.Root,
		extensions:       s.config.Scripts.Extensions,
		denyExtensions:   s.config.Scripts.DenyExtensions,
		defaultDocuments: s.config.Scripts.DefaultDocuments,
	}
}

// isScript reports whether name has one of the page extensions.
func (st *site) isScript(name string) bool {
	return slices.Contains(st.extensions, strings.ToLower(filepath.Ext(name)))
}

// isDenied reports whether urlPath names a file that must never be sent as
// static content, such as an include holding page source.
func (st *site) isDenied(urlPath string) bool {
	return slices.Contains(st.denyExtensions, strings.ToLower(path.Ext(path.Clean("/"+urlPath))))
}

// lookup resolves urlPath to a page file. dir is true when urlPath names a
// directory holding a default document but lacks the trailing slash.
func (st *site) lookup(urlPath string) (file string, dir bool, ok bool) {
	clean := path.Clean("/" + urlPath)
	fsPath := filepath.Join(st.root, filepath.FromSlash(clean))

	info, err := os.Stat(fsPath)
	if err != nil {
		return "", false, false
	}
	if !info.IsDir() {
		if !st.isScript(fsPath) {
			return "", false, false
		}
		return fsPath, false, true
	}

	for _, doc := range st.defaultDocuments {
		candidate := filepath.Join(fsPath, doc)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() && st.isScript(candidate) {
			return candidate, !strings.HasSuffix(urlPath, "/"), true
		}
	}
	return "", false, false
}

// splitPath splits a URL path into segments, ignoring leading/trailing slashes.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// containsPathTraversal checks if a path contains .. components.
func containsPathTraversal(path string) bool {
	return slices.Contains(strings.Split(path, "/"), "..")
}

// containsDotfile checks if any path segment starts with a dot (hidden files).
func containsDotfile(path string) bool {
	for _, seg := range splitPath(path) {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
