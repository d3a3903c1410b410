package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/ageniuscoder/mmchat/convsync/internal/storage/schema"
)

// SchemaFS is the embedded migrations as an afero filesystem.
func SchemaFS() afero.Fs {
	return afero.FromIOFS{FS: schema.FS}
}

// Migrate runs the statements in path, read from fsys. A nil fsys reads the
// embedded schema. Statements are separated by ";" at the end of a line.
func Migrate(ctx context.Context, db *sql.DB, fsys afero.Fs, path string) error {
	if fsys == nil {
		fsys = SchemaFS()
	}
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("reading schema %s: %w", path, err)
	}
	stmts := strings.Split(string(b), ";\n")

	for _, stmt := range stmts {
		st := strings.TrimSuffix(strings.TrimSpace(stmt), ";")
		if st == "" {
			continue
		}
		if _, err = db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("migrating %s: %w", path, err)
		}
	}
	return nil
}
