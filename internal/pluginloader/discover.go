package pluginloader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weaver-engine/weaver/internal/plugin"
)

// Discover scans every *.go file directly under dir for a package-level
// `var PluginMetadata = plugin.Metadata{...}` declaration and returns its
// parsed contents, without compiling or executing the candidate file. This
// mirrors a static-manifest discovery step ahead of the runtime Registry:
// discovery decides which ids exist, registration (plugins.RegisterBuiltins
// filling a Registry at process start) decides which ones actually run.
func Discover(dir string) ([]plugin.Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pluginloader: read %s: %w", dir, err)
	}

	var metas []plugin.Metadata
	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		file, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
		if err != nil {
			return nil, fmt.Errorf("pluginloader: parse %s: %w", path, err)
		}
		meta, ok, err := extractMetadata(file)
		if err != nil {
			return nil, fmt.Errorf("pluginloader: %s: %w", path, err)
		}
		if ok {
			metas = append(metas, meta)
		}
	}
	return metas, nil
}

func extractMetadata(file *ast.File) (plugin.Metadata, bool, error) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			continue
		}
		for _, spec := range gen.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if name.Name != "PluginMetadata" || i >= len(vs.Values) {
					continue
				}
				lit, ok := vs.Values[i].(*ast.CompositeLit)
				if !ok {
					continue
				}
				meta, err := parseMetadataLiteral(lit)
				if err != nil {
					return plugin.Metadata{}, false, err
				}
				return meta, true, nil
			}
		}
	}
	return plugin.Metadata{}, false, nil
}

func parseMetadataLiteral(lit *ast.CompositeLit) (plugin.Metadata, error) {
	var meta plugin.Metadata
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			continue
		}
		switch key.Name {
		case "ID":
			s, err := stringLiteral(kv.Value)
			if err != nil {
				return meta, fmt.Errorf("ID: %w", err)
			}
			meta.ID = s
		case "Name":
			s, err := stringLiteral(kv.Value)
			if err != nil {
				return meta, fmt.Errorf("Name: %w", err)
			}
			meta.Name = s
		case "Version":
			s, err := stringLiteral(kv.Value)
			if err != nil {
				return meta, fmt.Errorf("Version: %w", err)
			}
			meta.Version = s
		case "DependsOn":
			deps, err := stringSliceLiteral(kv.Value)
			if err != nil {
				return meta, fmt.Errorf("DependsOn: %w", err)
			}
			meta.DependsOn = deps
		}
	}
	if meta.ID == "" {
		return meta, fmt.Errorf("PluginMetadata.ID must be a non-empty string literal")
	}
	return meta, nil
}

func stringLiteral(expr ast.Expr) (string, error) {
	bl, ok := expr.(*ast.BasicLit)
	if !ok || bl.Kind != token.STRING {
		return "", fmt.Errorf("expected a string literal")
	}
	return strconv.Unquote(bl.Value)
}

func stringSliceLiteral(expr ast.Expr) ([]string, error) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return nil, fmt.Errorf("expected a []string composite literal")
	}
	out := make([]string, 0, len(lit.Elts))
	for _, elt := range lit.Elts {
		s, err := stringLiteral(elt)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
