package probe

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// buildOutputDirs are the root-level directories removed by safe-cleanup.
var buildOutputDirs = []string{".next", "dist", "build"}

// treeStats are the counts gathered by one walk of the working tree.
type treeStats struct {
	unusedFiles   int
	srcSources    int
	srcComponents int
	staleFiles    int
	buildDirs     []string
}

// scanTree walks root once, skipping the directories in skip.
func scanTree(root string, skip []string, now time.Time, staleAge time.Duration) (treeStats, error) {
	var st treeStats
	srcDir := filepath.Join(root, "src") + string(filepath.Separator)
	top := filepath.Clean(root)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && slices.Contains(skip, path) {
				return filepath.SkipDir
			}
			if filepath.Dir(path) == top && slices.Contains(buildOutputDirs, name) {
				rel, _ := filepath.Rel(root, path)
				st.buildDirs = append(st.buildDirs, filepath.ToSlash(rel))
				return filepath.SkipDir
			}
			return nil
		}

		switch filepath.Ext(name) {
		case ".unused", ".old", ".backup":
			st.unusedFiles++
		case ".ts", ".tsx":
			if strings.HasPrefix(path, srcDir) {
				st.srcSources++
				if inComponents(path[len(srcDir):]) && filepath.Ext(name) == ".tsx" {
					st.srcComponents++
				}
			}
		case ".tmp", ".log":
			info, ierr := d.Info()
			if ierr == nil && now.Sub(info.ModTime()) > staleAge {
				st.staleFiles++
			}
		}
		return nil
	})
	if err != nil {
		return treeStats{}, fmt.Errorf("walking %s: %w", root, err)
	}
	return st, nil
}

func inComponents(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return slices.Contains(parts[:len(parts)-1], "components")
}

var errLimit = errors.New("size limit reached")

// dirSizeExceeds sums file sizes under dir, stopping once limit is passed.
func dirSizeExceeds(dir string, limit int64) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			total += info.Size()
			if total > limit {
				return errLimit
			}
		}
		return nil
	})
	if errors.Is(err, errLimit) {
		return total, nil
	}
	return total, err
}
