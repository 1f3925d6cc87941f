package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"authflow/internal/db/migrations"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	body, err := fs.ReadFile(migrations.FS, names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "UNIQUE (email)") {
		t.Fatalf("expected unique email constraint in %s", names[0])
	}
}

func TestRunMigrations_PropagatesError(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	var gotDir string
	gooseUp = func(_ context.Context, _ *sql.DB, dir string) error {
		gotDir = dir
		return errors.New("boom")
	}

	err := runMigrations(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "goose up: boom") {
		t.Fatalf("expected wrapped goose error, got %v", err)
	}
	if gotDir != "." {
		t.Fatalf("expected dir '.', got %q", gotDir)
	}
}
