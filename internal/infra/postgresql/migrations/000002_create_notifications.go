package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			statements := []string{
				`ALTER TABLE notifications ADD CONSTRAINT fk_notifications_content
					FOREIGN KEY (content_id) REFERENCES content (id)`,
				`ALTER TABLE notifications ADD CONSTRAINT chk_notifications_failures
					CHECK (failures >= 0)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_modified ON notifications (status, modified)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
