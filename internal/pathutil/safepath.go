// Package pathutil holds the path checks shared by the archive reader and the
// preview server.
package pathutil

import (
	"path"
	"strings"
)

// HasDotSegments reports whether any slash-separated segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSafeEntryName reports whether name is usable as a relative, slash
// separated archive entry that cannot escape an extraction root. A single
// trailing slash (directory entry) is allowed.
func IsSafeEntryName(name string) bool {
	name = strings.TrimSuffix(name, "/")
	if name == "" || path.IsAbs(name) {
		return false
	}
	if strings.ContainsAny(name, "\\\x00") {
		return false
	}
	// windows drive letters survive path.IsAbs
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	if strings.Contains(name, "//") {
		return false
	}
	return !HasDotSegments(name)
}
