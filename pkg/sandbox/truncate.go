package sandbox

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Per-tool truncation bounds (spec §4.1 / §8).
const (
	maxReadFileBytes      = 100 * 1024
	maxRunCommandBytes     = 50 * 1024
	maxListDirectoryEntries = 200
)

// truncateAtLineBoundary cuts content at the last newline before maxBytes,
// so indented JSON/YAML/log output never splits mid-line.
func truncateAtLineBoundary(content string, maxBytes int, marker string) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf("\n\n[TRUNCATED: %s — original size: %dB, limit: %dB]", marker, len(content), maxBytes)
}
