package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"gorm.io/gorm"
)

func createContentTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_content",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ContentModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ContentModel{})
		},
	}
}
