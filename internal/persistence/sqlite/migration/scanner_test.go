package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScanner_ScanMigrations(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"010_add_index.sql":      {Data: []byte("CREATE INDEX idx ON t(id);")},
		"002_second.sql":         {Data: []byte("CREATE TABLE b (id TEXT);")},
		"001_initial_schema.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"README.md":              {Data: []byte("ignored")},
	}

	migrations, err := NewScanner(files).ScanMigrations()
	if err != nil {
		t.Fatalf("ScanMigrations returned error: %v", err)
	}

	got := make([]string, len(migrations))
	for i, m := range migrations {
		got[i] = m.Version
	}
	want := []string{"001", "002", "010"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if migrations[0].Description != "initial schema" {
		t.Fatalf("unexpected description %q", migrations[0].Description)
	}
	if migrations[0].Checksum == "" {
		t.Fatal("expected checksum to be populated")
	}
}

func TestScanner_RejectsBadFiles(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		files fstest.MapFS
		want  error
	}{
		"bad name": {
			files: fstest.MapFS{"initial.sql": {Data: []byte("SELECT 1;")}},
			want:  ErrInvalidMigrationFile,
		},
		"empty file": {
			files: fstest.MapFS{"001_empty.sql": {Data: []byte("  \n")}},
			want:  ErrInvalidMigrationFile,
		},
		"duplicate version": {
			files: fstest.MapFS{
				"001_a.sql": {Data: []byte("SELECT 1;")},
				"001_b.sql": {Data: []byte("SELECT 1;")},
			},
			want: ErrDuplicateVersion,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewScanner(tc.files).ScanMigrations()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestScanner_SubDirectory(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"migrations/001_init.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
	}
	migrations, err := NewScannerDir(files, "migrations").ScanMigrations()
	if err != nil {
		t.Fatalf("ScanMigrations returned error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].FilePath != "migrations/001_init.sql" {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
}

func TestVersionLess(t *testing.T) {
	t.Parallel()

	if !versionLess("2", "10") || !versionLess("009", "010") || versionLess("010", "2") {
		t.Fatal("unexpected numeric ordering")
	}
}
