package uripath

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var (
	reScheme = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	reDrive  = regexp.MustCompile(`^[A-Za-z]:([/\\]|$)`)
)

// CaseInsensitivePlatform reports whether the host platform's default
// filesystem compares names case-insensitively.
func CaseInsensitivePlatform() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// NormalizeLocal canonicalizes a local URI for comparison on the current
// platform. See NormalizeLocalFold.
func NormalizeLocal(uri string) string {
	return NormalizeLocalFold(uri, CaseInsensitivePlatform())
}

// NormalizeLocalFold lower-cases the path portion of file-scheme URIs and of
// bare filesystem paths when fold is true. Scheme and authority are kept
// verbatim; non-file schemes pass through untouched.
func NormalizeLocalFold(uri string, fold bool) string {
	uri = strings.TrimSpace(uri)
	if !fold || uri == "" {
		return uri
	}
	if m := reScheme.FindString(uri); m != "" {
		if !strings.EqualFold(m, "file://") {
			return uri
		}
		rest := uri[len(m):]
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return uri
		}
		return uri[:len(m)] + rest[:i] + strings.ToLower(rest[i:])
	}
	return strings.ToLower(uri)
}

// IsAbsolute reports whether the URI carries an explicit scheme or is a
// rooted filesystem path. Absolute URIs are never rebased.
func IsAbsolute(uri string) bool {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return false
	}
	if strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, `\`) {
		return true
	}
	if reDrive.MatchString(uri) {
		return true
	}
	return reScheme.MatchString(uri)
}

// Segments splits a URI-like string into path segments. A leading
// scheme://authority pair counts as a single segment; a leading slash is kept
// as an empty root segment so strings.Join(segs, "/") round-trips.
func Segments(uri string) []string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	uri = strings.ReplaceAll(uri, `\`, "/")
	var segs []string
	if m := reScheme.FindString(uri); m != "" {
		rest := uri[len(m):]
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return []string{uri}
		}
		segs = append(segs, uri[:len(m)+i])
		uri = rest[i+1:]
	} else if strings.HasPrefix(uri, "/") {
		segs = append(segs, "")
		uri = uri[1:]
	}
	for _, part := range strings.Split(uri, "/") {
		if part == "" {
			continue
		}
		segs = append(segs, part)
	}
	return segs
}

// CommonSuffixLen returns the number of trailing segments shared by a and b,
// comparing from the end and stopping at the first mismatch.
func CommonSuffixLen(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

// CommonIndices returns every index pair (i, j) with a[i] == b[j], ascending
// by i then j.
func CommonIndices(a, b []string) [][2]int {
	var pairs [][2]int
	for i, av := range a {
		for j, bv := range b {
			if av == bv {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// Basename returns the final path segment of a URI or filesystem path.
func Basename(uri string) string {
	uri = strings.TrimSpace(uri)
	uri = strings.ReplaceAll(uri, `\`, "/")
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// Ext returns the lowercased extension of the URI's basename, dot included.
func Ext(uri string) string {
	return strings.ToLower(path.Ext(Basename(uri)))
}

// JoinURI joins a base URI and a relative path with a single slash.
func JoinURI(base, rel string) string {
	base = strings.TrimSpace(base)
	rel = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/"), "/")
	if base == "" {
		return rel
	}
	if strings.HasSuffix(base, "/") {
		return base + rel
	}
	return base + "/" + rel
}

// FromPath converts an absolute filesystem path to a file URI.
func FromPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	slash := filepath.ToSlash(p)
	if !strings.HasPrefix(slash, "/") {
		slash = "/" + slash
	}
	return "file://" + slash
}

// ToPath converts a file URI to a filesystem path. Anything without a file
// scheme passes through with separators normalized for the platform.
func ToPath(uri string) string {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(strings.ToLower(uri), "file://") {
		return filepath.FromSlash(uri)
	}
	rest := uri[len("file://"):]
	if i := strings.IndexByte(rest, '/'); i > 0 {
		rest = rest[i:]
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	if len(rest) >= 3 && rest[0] == '/' && isDriveLetter(rest[1]) && rest[2] == ':' {
		rest = rest[1:]
	}
	return filepath.FromSlash(rest)
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
