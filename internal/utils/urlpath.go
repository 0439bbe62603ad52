package utils

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFilename is used when the URL path carries no usable name
const DefaultFilename = "download.bin"

// FilenameFromURL extracts the last path element of a URL
// Example: https://example.com/a/b/file.zip?x=1 -> file.zip
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFilename
	}

	name := path.Base(parsed.EscapedPath())
	if name == "." || name == "/" || name == "" {
		return DefaultFilename
	}

	name = sanitizeFilename(name)
	if name == "" {
		return DefaultFilename
	}
	return name
}

// ResolveDestination turns a destination into a file path.
// A destination that names a directory (trailing separator) gets the
// file name from the URL. file:// URIs are accepted.
func ResolveDestination(dest, rawURL string) string {
	if strings.HasPrefix(dest, "file://") {
		if u, err := url.Parse(dest); err == nil {
			dest = u.Path
		}
	}
	if dest == "" {
		return FilenameFromURL(rawURL)
	}
	if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(os.PathSeparator)) {
		return filepath.Join(dest, FilenameFromURL(rawURL))
	}
	return filepath.Clean(dest)
}

func sanitizeFilename(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	// Strip anything that could escape the target directory
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
