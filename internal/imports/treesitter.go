package imports

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TreeSitter parses TypeScript, TSX and JavaScript and reports imports none
// of whose local bindings is referenced outside import statements.
// Side-effect imports ("import './x.css'") bind nothing and are always
// considered used.
type TreeSitter struct{}

func language(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".ts", ".mts", ".cts":
		return typescript.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// referenceTypes are node types that name a binding in use.
var referenceTypes = map[string]bool{
	"identifier":                    true,
	"type_identifier":               true,
	"shorthand_property_identifier": true,
}

// UnusedImports implements Analyzer.
func (TreeSitter) UnusedImports(path string, src []byte) ([]Import, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language(path))

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%s: %w", path, ErrSyntax)
	}

	text := func(n *sitter.Node) string { return string(src[n.StartByte():n.EndByte()]) }

	var imports []Import
	refs := make(map[string]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "import_statement" {
			imports = append(imports, importOf(n, text))
			return
		}
		if referenceTypes[n.Type()] {
			refs[text(n)] = true
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)

	var unused []Import
	for _, imp := range imports {
		if len(imp.Bindings) == 0 {
			continue
		}
		used := false
		for _, b := range imp.Bindings {
			if refs[b] {
				used = true
				break
			}
		}
		if !used {
			unused = append(unused, imp)
		}
	}
	return unused, nil
}

// importOf extracts the source and local bindings of an import_statement.
func importOf(n *sitter.Node, text func(*sitter.Node) string) Import {
	imp := Import{
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
	if src := n.ChildByFieldName("source"); src != nil {
		imp.Source = strings.Trim(text(src), "'\"`")
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "import_clause":
			imp.Bindings = append(imp.Bindings, clauseBindings(child, text)...)
		case "import_require_clause":
			// import x = require('y')
			for j := 0; j < int(child.NamedChildCount()); j++ {
				c := child.NamedChild(j)
				if c.Type() == "identifier" {
					imp.Bindings = append(imp.Bindings, text(c))
				} else if c.Type() == "string" && imp.Source == "" {
					imp.Source = strings.Trim(text(c), "'\"`")
				}
			}
		}
	}
	return imp
}

func clauseBindings(clause *sitter.Node, text func(*sitter.Node) string) []string {
	var out []string
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier":
			out = append(out, text(c))
		case "namespace_import":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if id := c.NamedChild(j); id.Type() == "identifier" {
					out = append(out, text(id))
				}
			}
		case "named_imports":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				spec := c.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				local := spec.ChildByFieldName("alias")
				if local == nil {
					local = spec.ChildByFieldName("name")
				}
				if local != nil {
					out = append(out, text(local))
				}
			}
		}
	}
	return out
}
