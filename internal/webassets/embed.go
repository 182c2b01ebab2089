// Package webassets embeds the pages the preview server falls back to when
// the build output is missing or has no page of its own for a path.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

const (
	NotBuiltFile = "notbuilt.html"
	NotFoundFile = "404.html"
)

//go:embed fallback
var embedded embed.FS

func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}
