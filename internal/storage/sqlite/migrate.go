package sqlite

import (
	"context"

	"github.com/spf13/afero"

	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage/schema"
)

// Migrate applies the embedded schema, or the file at path on fsys when
// fsys is not nil.
func (s *Sqlite) Migrate(ctx context.Context, fsys afero.Fs, path string) error {
	if fsys == nil || path == "" {
		return storage.Migrate(ctx, s.Db, nil, schema.SQLite)
	}
	return storage.Migrate(ctx, s.Db, fsys, path)
}
