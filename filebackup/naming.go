package filebackup

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// SavedFile identifies one backup file on disk: its tag, generation and the filename it must be
// opened or removed under, relative to the tag's subdirectory.
type SavedFile struct {
	Tag        string
	Generation int64
	Filename   string
}

// filenameGlob builds a matcher for "<prefix>_<generation>.buf" style names, since the tag itself
// is encoded only in the directory, not the filename (spec 4.5 grammar).
func filenameGlob(prefix string) (glob.Glob, error) {
	return glob.Compile(prefix + "_*.buf")
}

// makeFilename renders "<prefix>_<generation>.buf"
func makeFilename(prefix string, generation int64) string {
	return fmt.Sprintf("%s_%d.buf", prefix, generation)
}

// parseGeneration extracts the generation number from a filename produced by makeFilename,
// returning false if it doesn't match the prefix's grammar.
func parseGeneration(prefix string, filename string) (int64, bool) {
	rest := strings.TrimPrefix(filename, prefix+"_")
	if rest == filename {
		return 0, false
	}
	rest = strings.TrimSuffix(rest, ".buf")
	if rest == "" {
		return 0, false
	}
	generation, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return generation, true
}

// sanitizeTagDirName turns a tag into a filesystem-safe directory basename. Because two distinct
// tags could sanitize to the same string, a hash suffix (added by the caller) keeps directories
// unique regardless of collisions here.
func sanitizeTagDirName(tag string) string {
	escaped := url.QueryEscape(tag)
	if len(escaped) > 200 {
		escaped = escaped[:200]
	}
	return escaped
}
