package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsHistoryTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notifications_history",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.HistoryModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_history_user_sent ON notifications_history (user_id, sent_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.HistoryModel{})
		},
	}
}
