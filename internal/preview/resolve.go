package preview

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/pdfsplit-web/internal/pathutil"
)

// resolvePath maps a URL path (already relative to the base) to a file
// within an FS
//
// Returns:
// - file: relative file path within FS (no leading slash)
// - redirectTo: if non-empty, caller should redirect to this path (relative to base)
// - ok: whether the mapping is valid/found
func resolvePath(urlPath string, fsys fs.FS, index string) (file string, redirectTo string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	// basic rejection of ambiguous/unsafe paths
	if strings.ContainsAny(p, "\x00\\") || pathutil.HasDotSegments(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	if trailingSlash && clean != "/" {
		clean += "/"
	}

	if strings.HasSuffix(clean, "/") {
		name := strings.TrimPrefix(clean, "/") + index
		return name, "", existsFile(fsys, name)
	}

	name := strings.TrimPrefix(clean, "/")
	if existsFile(fsys, name) {
		return name, "", true
	}

	// directory without slash: redirect to the canonical slash url
	if path.Ext(clean) == "" && existsFile(fsys, name+"/"+index) {
		return "", clean + "/", true
	}
	return "", "", false
}

// spaRoute reports whether a miss on urlPath should get the app shell:
// client-side routes have no extension, asset misses stay 404s.
func spaRoute(urlPath string) bool {
	if strings.HasPrefix(urlPath, "/assets/") {
		return false
	}
	return path.Ext(path.Base(urlPath)) == ""
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
