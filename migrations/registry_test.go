package migrations

import (
	"context"
	"io/fs"
	"testing"
)

func TestFilesystemsResolveBothDialects(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("Filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("filesystems = %d, want postgres + sqlite", len(filesystems))
	}

	byDialect := map[string]FilesystemSpec{}
	for _, spec := range filesystems {
		byDialect[spec.Dialect] = spec
	}
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		spec, ok := byDialect[dialect]
		if !ok {
			t.Fatalf("missing %s filesystem", dialect)
		}
		matches, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", dialect, err)
		}
		if len(matches) == 0 {
			t.Fatalf("%s filesystem has no up migrations", dialect)
		}
	}
}

func TestRegisterVisitsValidationTargets(t *testing.T) {
	var visited []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect, label string, fsys fs.FS) error {
		if label != "go-trackers" {
			t.Fatalf("source label = %q", label)
		}
		if fsys == nil {
			t.Fatalf("nil filesystem for %s", dialect)
		}
		visited = append(visited, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(visited) != 1 || visited[0] != DialectSQLite {
		t.Fatalf("visited = %v, want [sqlite]", visited)
	}
	if len(reg.Filesystems) != 2 {
		t.Fatalf("registration retains both filesystems, got %d", len(reg.Filesystems))
	}
}

func TestRegisterRequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil register function")
	}
}
