// Package imports finds import statements whose bindings are never used and
// comments them out.
package imports

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
)

// ErrSyntax is returned when a file cannot be parsed cleanly. Such files
// must not be rewritten.
var ErrSyntax = errors.New("source has syntax errors")

// Marker is appended to every line commented out by CommentOut.
const Marker = "// removed unused import"

// Import is one import statement.
type Import struct {
	// StartLine and EndLine are 1-based and inclusive.
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Source    string   `json:"source"`
	Bindings  []string `json:"bindings,omitempty"`
}

// Analyzer reports the unused imports of one source file.
type Analyzer interface {
	UnusedImports(path string, src []byte) ([]Import, error)
}

// Extensions lists the file types analyzers understand.
var Extensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// Supported reports whether path has an analyzable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// New returns the analyzer named kind: "heuristic" or "treesitter" (the
// default for any other value).
func New(kind string) Analyzer {
	if kind == "heuristic" {
		return Heuristic{}
	}
	return TreeSitter{}
}

// CommentOut rewrites src so every line of each unused import becomes
// "// <line> // removed unused import". It returns the new source and the
// number of imports rewritten. Lines already carrying the marker are left
// alone.
func CommentOut(src []byte, unused []Import) ([]byte, int) {
	if len(unused) == 0 {
		return src, 0
	}
	lines := bytes.Split(src, []byte("\n"))
	touched := make(map[int]bool)
	count := 0
	for _, imp := range unused {
		if imp.StartLine < 1 || imp.EndLine < imp.StartLine || imp.EndLine > len(lines) {
			continue
		}
		changed := false
		for ln := imp.StartLine; ln <= imp.EndLine; ln++ {
			i := ln - 1
			if touched[i] || bytes.Contains(lines[i], []byte(Marker)) {
				continue
			}
			line := string(bytes.TrimRight(lines[i], "\r"))
			lines[i] = []byte("// " + line + " " + Marker)
			touched[i] = true
			changed = true
		}
		if changed {
			count++
		}
	}
	return bytes.Join(lines, []byte("\n")), count
}
