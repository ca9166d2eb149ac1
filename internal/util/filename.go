package util

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[\x00\\/:*?"<>|]`)

// SanitizeFilename replaces characters that are unsafe in filenames so a
// link-derived name can be used for zip archives and storage entries.
func SanitizeFilename(filename string) string {
	safe := unsafeFilenameChars.ReplaceAllString(filename, "-")
	safe = strings.ReplaceAll(safe, "\x00", "-")

	for strings.HasPrefix(safe, ".") || strings.HasPrefix(safe, "-") {
		safe = safe[1:]
	}
	if safe == "" {
		safe = "untitled"
	}
	return safe
}

// LinkToFilename derives a zip archive base name from a link, stripping the
// scheme and collapsing path separators.
func LinkToFilename(link string) string {
	name := link
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "www.")
	name = strings.Trim(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	return SanitizeFilename(name)
}
