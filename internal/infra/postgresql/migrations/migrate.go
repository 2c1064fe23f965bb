package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// All returns the schema migrations in apply order.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createContentTable(),
		createNotificationsTable(),
		createNotificationsHistoryTable(),
	}
}

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, All()).Migrate()
}
