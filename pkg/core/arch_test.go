package core_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sourceImports parses every non-test Go file in dir and returns its
// imports keyed by file name.
func sourceImports(t *testing.T, dir string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read directory %s: %v", dir, err)
	}

	out := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			continue
		}
		for _, imp := range f.Imports {
			out[entry.Name()] = append(out[entry.Name()], strings.Trim(imp.Path.Value, `"`))
		}
	}
	return out
}

// TestCoreImportsOnlyStdlib verifies pkg/core only imports the standard library.
func TestCoreImportsOnlyStdlib(t *testing.T) {
	for file, imports := range sourceImports(t, ".") {
		for _, importPath := range imports {
			// Stdlib paths have no dot in their first element.
			if strings.Contains(strings.SplitN(importPath, "/", 2)[0], ".") {
				t.Errorf("%s imports forbidden package: %s", file, importPath)
			}
		}
	}
}

// TestPkgDoesNotImportInternal verifies no public package reaches into
// internal/.
func TestPkgDoesNotImportInternal(t *testing.T) {
	pkgRoot := ".."
	err := filepath.WalkDir(pkgRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "testdata" {
			return filepath.SkipDir
		}
		for file, imports := range sourceImports(t, path) {
			for _, importPath := range imports {
				if strings.Contains(importPath, "/internal/") {
					t.Errorf("%s imports internal package: %s (pkg must not import internal packages)",
						filepath.Join(path, file), importPath)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk pkg: %v", err)
	}
}

// TestAdaptersIsolated verifies backends only meet through pkg/adapter:
// an adapter implementation never imports another one.
func TestAdaptersIsolated(t *testing.T) {
	adaptersDir := filepath.Join("..", "adapters")
	entries, err := os.ReadDir(adaptersDir)
	if err != nil {
		t.Fatalf("Failed to read adapters directory: %v", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "all" {
			continue
		}
		dir := filepath.Join(adaptersDir, entry.Name())
		for file, imports := range sourceImports(t, dir) {
			for _, importPath := range imports {
				if strings.Contains(importPath, "/pkg/adapters/") {
					t.Errorf("%s imports sibling adapter: %s", filepath.Join(dir, file), importPath)
				}
			}
		}
	}
}
