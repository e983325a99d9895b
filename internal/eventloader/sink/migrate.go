package sink

import (
	"embed"

	"github.com/armadaproject/eventloader/internal/common/database"
	"github.com/armadaproject/eventloader/internal/common/logctx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the sink schema up to date: the events table and the checkpoint tables stored alongside it.
func Migrate(ctx *logctx.Context, db database.Querier) error {
	migrations, err := database.ReadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	return database.UpdateDatabase(ctx, db, migrations)
}
