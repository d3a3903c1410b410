package postgres

import (
	"context"

	"github.com/spf13/afero"

	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage/schema"
)

func (s *Postgres) Migrate(ctx context.Context, fsys afero.Fs, path string) error {
	if fsys == nil || path == "" {
		return storage.Migrate(ctx, s.Db, nil, schema.Postgres)
	}
	return storage.Migrate(ctx, s.Db, fsys, path)
}
