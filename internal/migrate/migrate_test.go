package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFiles_Order(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000001_a.up.sql", "000002_b.down.sql", "000001_a.down.sql",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	up, err := Files(dir, Up)
	if err != nil {
		t.Fatalf("Files(up): %v", err)
	}
	wantUp := []string{filepath.Join(dir, "000001_a.up.sql"), filepath.Join(dir, "000002_b.up.sql")}
	if diff := cmp.Diff(wantUp, up); diff != "" {
		t.Errorf("up order mismatch (-want +got):\n%s", diff)
	}

	down, err := Files(dir, Down)
	if err != nil {
		t.Fatalf("Files(down): %v", err)
	}
	wantDown := []string{filepath.Join(dir, "000002_b.down.sql"), filepath.Join(dir, "000001_a.down.sql")}
	if diff := cmp.Diff(wantDown, down); diff != "" {
		t.Errorf("down order mismatch (-want +got):\n%s", diff)
	}
}

func TestFiles_Empty(t *testing.T) {
	if _, err := Files(t.TempDir(), Up); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
