package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	maxFilenameLength = 255
	artifactPrefix    = "tiktok_"
	artifactExt       = ".mp4"
)

// Characters that would let a name escape its directory or break a header.
var unsafeRunes = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'*':  true,
	'?':  true,
	'<':  true,
	'>':  true,
	'|':  true,
}

// ArtifactName returns the file name a capture of jobID is stored under.
func ArtifactName(jobID string) string {
	return SanitizeFilename(artifactPrefix + jobID + artifactExt)
}

// SanitizeFilename replaces path separators, header-breaking characters and
// control characters with underscores and caps the result at 255 bytes,
// keeping the extension. Unicode letters are preserved.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || unsafeRunes[r] {
			sb.WriteByte('_')
			continue
		}
		sb.WriteRune(r)
	}

	out := strings.TrimSpace(sb.String())
	if strings.Trim(out, "_.") == "" {
		return "file"
	}
	if len(out) > maxFilenameLength {
		out = truncateKeepingExt(out)
	}
	return out
}

func truncateKeepingExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateBytes(name, maxFilenameLength)
	}
	base := strings.TrimSuffix(name, ext)
	return truncateBytes(base, maxFilenameLength-len(ext)) + ext
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ContentDisposition builds the header used when an artifact is downloaded.
func ContentDisposition(filename string, inline bool) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", kind, SanitizeFilename(filepath.Base(filename)))
}
