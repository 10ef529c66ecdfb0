package asp

import (
	"html"
	"net/url"
	"path"
	"path/filepath"
)

// ServerUtil is the legacy Server object for one page.
type ServerUtil struct {
	root string
	dir  string // URL directory of the requested page
}

// NewServerUtil returns the Server object for the page at urlPath under root.
func NewServerUtil(root, urlPath string) *ServerUtil {
	return &ServerUtil{root: root, dir: path.Dir(path.Clean("/" + urlPath))}
}

func (s *ServerUtil) HTMLEncode(v string) string {
	return html.EscapeString(v)
}

func (s *ServerUtil) URLEncode(v string) string {
	return url.QueryEscape(v)
}

// MapPath converts a virtual path to a filesystem path. Relative paths are
// taken from the page's directory. The result never leaves the root.
func (s *ServerUtil) MapPath(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(s.dir, p)
	}
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))
}
