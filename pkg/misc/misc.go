package misc

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var sizeSuffixes = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatFileSize formats the passed size in bytes as a human-readable string, for example "3.5 MiB".
func FormatFileSize(bytes int64) string {
	size := float64(bytes)

	var suffixIndex int
	for size/1024 > 1 && suffixIndex < len(sizeSuffixes)-1 {
		size /= 1024
		suffixIndex++
	}

	res := strings.TrimRight(fmt.Sprintf("%.2f", size), "0")
	res = strings.TrimSuffix(res, ".")
	return res + " " + sizeSuffixes[suffixIndex]
}

func EnsureSuffix(s, suffix string) string {
	if strings.HasSuffix(s, suffix) {
		return s
	}
	return s + suffix
}

// Truncate cuts s to at most n bytes and appends "..." if anything was cut.
// Multi-byte characters are never split.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
