package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// The photo drivers are wired in exactly one place: this facade. Everything
// else depends on the Store interface, so driver packages must not leak into
// the rest of the module, test packages included.
func TestPhotoDriversWrappedOnlyByFacade(t *testing.T) {
	const (
		driverTree = "auditcore/internal/infra/blob"
		facadeTree = "auditcore/internal/blob"
	)

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "auditcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	// Test variants of a package load as separate nodes under the same
	// path, so collect violations into a set before reporting.
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if withinTree(pkg.PkgPath, facadeTree) || withinTree(pkg.PkgPath, driverTree) {
			continue
		}
		for importPath := range pkg.Imports {
			if withinTree(importPath, driverTree) {
				seen[pkg.PkgPath+" imports "+importPath] = struct{}{}
			}
		}
	}
	leaks := make([]string, 0, len(seen))
	for leak := range seen {
		leaks = append(leaks, leak)
	}
	sort.Strings(leaks)
	for _, leak := range leaks {
		t.Errorf("photo driver wired outside the blob facade: %s", leak)
	}
}

func withinTree(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
