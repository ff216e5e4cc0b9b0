package probe

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/blackwell-systems/ciwarden/internal/project"
)

type moduleRule struct {
	module   string
	prefixes []string
	contains []string
	exts     []string
}

// moduleRules map changed paths to modules. A path may map to several.
var moduleRules = []moduleRule{
	{
		module:   project.ModuleDatabase,
		prefixes: []string{"supabase/", "migrations/", "prisma/", "db/"},
		contains: []string{"/supabase/", "/migrations/", "/db/"},
		exts:     []string{".sql"},
	},
	{
		module:   project.ModuleBackend,
		prefixes: []string{"api/", "server/", "pages/api/", "app/api/", "src/pages/api/", "src/app/api/", "src/server/", "lib/", "src/lib/", "middleware."},
		contains: []string{"/api/"},
	},
	{
		module:   project.ModuleFrontend,
		prefixes: []string{"components/", "pages/", "app/", "styles/", "public/", "src/components/", "src/pages/", "src/app/", "src/styles/"},
		exts:     []string{".tsx", ".jsx", ".css", ".scss", ".html"},
	},
}

// AffectedModules maps changed file paths to the modules they belong to,
// in frontend, backend, database order.
func AffectedModules(files []string) []string {
	hit := map[string]bool{}
	for _, f := range files {
		f = filepath.ToSlash(f)
		for _, r := range moduleRules {
			if r.matches(f) {
				hit[r.module] = true
			}
		}
	}
	var out []string
	for _, m := range []string{project.ModuleFrontend, project.ModuleBackend, project.ModuleDatabase} {
		if hit[m] {
			out = append(out, m)
		}
	}
	return out
}

func (r moduleRule) matches(path string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(path, c) {
			return true
		}
	}
	return slices.Contains(r.exts, strings.ToLower(filepath.Ext(path)))
}
