package preview

import (
	"path"
	"strings"
)

// hashed build output lives under assets/; everything else may change
// between builds under the same name
func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == ".html" || ext == "":
		return o.HTMLCacheControl
	case strings.HasPrefix(name, "assets/"):
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
