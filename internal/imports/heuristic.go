package imports

import (
	"regexp"
	"strings"
)

var importFrom = regexp.MustCompile(`^\s*import\s+.*?\s+from\s+['"]([^'"]+)['"]`)

// Heuristic flags single-line "import ... from 'x'" statements whose module
// specifier's last path segment appears nowhere else in the file. It is a
// substring test with both false positives and false negatives; use it as
// a fallback or in tests.
type Heuristic struct{}

// UnusedImports implements Analyzer.
func (Heuristic) UnusedImports(_ string, src []byte) ([]Import, error) {
	lines := strings.Split(string(src), "\n")

	var body strings.Builder
	type candidate struct {
		line   int
		source string
	}
	var cands []candidate
	for i, line := range lines {
		if m := importFrom.FindStringSubmatch(line); m != nil {
			cands = append(cands, candidate{line: i + 1, source: m[1]})
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	rest := body.String()
	var unused []Import
	for _, c := range cands {
		seg := c.source[strings.LastIndex(c.source, "/")+1:]
		seg = strings.TrimPrefix(seg, "@")
		if seg == "" || strings.Contains(rest, seg) {
			continue
		}
		unused = append(unused, Import{StartLine: c.line, EndLine: c.line, Source: c.source})
	}
	return unused, nil
}
