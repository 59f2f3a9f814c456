package refs

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// Well-known prefixes.
const (
	HeadsPrefix   = "refs/heads/"
	TagsPrefix    = "refs/tags/"
	RemotesPrefix = "refs/remotes/"
	Head          = "HEAD"
)

// Shorten strips the namespace from a full reference name:
// refs/heads/main becomes main, refs/remotes/origin/dev becomes origin/dev.
func Shorten(name string) string {
	for _, prefix := range []string{HeadsPrefix, TagsPrefix, RemotesPrefix, "refs/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}

// DisplayName renders raw name bytes as text. Valid UTF-8 is returned as
// is; each invalid sequence becomes U+FFFD.
func DisplayName(raw string) string {
	if utf8.ValidString(raw) {
		return raw
	}
	return strings.ToValidUTF8(raw, string(utf8.RuneError))
}

// BranchNames turns references into the short display names of the
// branches, sorted by byte value with duplicates removed.
func BranchNames(refs []Reference) []string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, DisplayName(Shorten(r.Name)))
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// ValidName reports whether name is acceptable as a reference name: HEAD,
// or a slash-separated path under refs/ following git's naming rules.
func ValidName(name string) bool {
	if name == Head {
		return true
	}
	if !strings.HasPrefix(name, "refs/") || strings.HasSuffix(name, "/") ||
		strings.HasSuffix(name, ".") || strings.Contains(name, "@{") || strings.Contains(name, "..") {
		return false
	}
	for _, c := range strings.Split(name, "/") {
		if c == "" || strings.HasPrefix(c, ".") || strings.HasSuffix(c, ".lock") {
			return false
		}
	}
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b < 0x20 || b == 0x7f {
			return false
		}
		switch b {
		case ' ', '~', '^', ':', '?', '*', '[', '\\':
			return false
		}
	}
	return true
}
