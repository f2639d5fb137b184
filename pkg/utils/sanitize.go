package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 100

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// TruncateRunes shortens s to at most n runes without splitting a multi-byte character
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
