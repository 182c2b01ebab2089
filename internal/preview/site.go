package preview

import (
	"bytes"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/keithlinneman/pdfsplit-web/internal/pathutil"
	"github.com/keithlinneman/pdfsplit-web/internal/webassets"
)

// siteHandler serves the previewed tree below the base path.
type siteHandler struct {
	opts *Options
}

func (h *siteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// hardening: only allow GET/HEAD
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rel, ok := h.relative(r.URL.Path)
	if !ok {
		if r.URL.Path == "/" || r.URL.Path+"/" == h.opts.BasePath {
			http.Redirect(w, r, h.opts.BasePath, http.StatusFound)
			return
		}
		h.serveNotFound(w, r, nil)
		return
	}

	if pathutil.HasDotSegments(rel) {
		h.serveNotFound(w, r, nil)
		return
	}

	fsys := h.opts.Source.FS()
	if fsys == nil {
		h.serveNotBuilt(w, r)
		return
	}

	file, redirectTo, found := resolvePath(rel, fsys, h.opts.IndexFile)
	if redirectTo != "" {
		http.Redirect(w, r, strings.TrimSuffix(h.opts.BasePath, "/")+redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		if !spaRoute(rel) || !existsFile(fsys, h.opts.IndexFile) {
			h.serveNotFound(w, r, fsys)
			return
		}
		// client-side route: hand the app shell to the router in the page
		file = h.opts.IndexFile
	}

	w.Header().Set("Cache-Control", cacheControlForFile(file, h.opts))
	if err := serveFile(w, r, fsys, file); err != nil {
		h.opts.Logger.Warn(r.Context(), "serve site file failed", "file", file, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// relative strips the base path; ok is false outside it.
func (h *siteHandler) relative(p string) (string, bool) {
	base := h.opts.BasePath
	if base == "/" {
		return p, true
	}
	if !strings.HasPrefix(p, base) {
		return "", false
	}
	return "/" + strings.TrimPrefix(p, base), true
}

func (h *siteHandler) serveNotBuilt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "5")
	writePage(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, webassets.NotBuiltFile)
}

func (h *siteHandler) serveNotFound(w http.ResponseWriter, r *http.Request, siteFS fs.FS) {
	w.Header().Set("Cache-Control", "no-store")

	// prefer the build's own 404 page
	if siteFS != nil && existsFile(siteFS, webassets.NotFoundFile) {
		writePage(w, r, http.StatusNotFound, siteFS, webassets.NotFoundFile)
		return
	}
	if existsFile(h.opts.FallbackFS, webassets.NotFoundFile) {
		writePage(w, r, http.StatusNotFound, h.opts.FallbackFS, webassets.NotFoundFile)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// writePage writes an html page with a forced status.
func writePage(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// serveFile serves name with range and conditional request support. Archive
// entries are not seekable, so those are buffered first.
func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	var content io.ReadSeeker
	if rs, ok := f.(io.ReadSeeker); ok {
		content = rs
	} else {
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		content = bytes.NewReader(data)
	}

	http.ServeContent(w, r, name, info.ModTime(), content)
	return nil
}
