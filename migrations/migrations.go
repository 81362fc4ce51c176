package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedMigrations embed.FS

// Apply brings the schema up to date. Both sqlite drivers in use speak the
// same dialect so there is only one set of migrations.
func Apply(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}

	return goose.Up(db, ".")
}
