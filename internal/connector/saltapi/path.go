package saltapi

import (
	"path"
	"strings"
)

// NormalizePath anchors p at "/", cleans it, and re-roots the result under
// prefix. Relative input is treated as relative to the root, so ".." can
// never climb above prefix.
//
// Remote hosts are POSIX, so this always uses slash separators no matter
// which OS the controller runs on.
func NormalizePath(p, prefix string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return path.Join(prefix, p[1:])
}
