package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillDocumentTimestamps = "2026-09-20_backfill_document_timestamps"
	migrationLowercaseUserEmails        = "2026-10-02_lowercase_user_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// registeredMigrations run in order; a name is applied at most once per database.
var registeredMigrations = []migrationDefinition{
	{name: migrationBackfillDocumentTimestamps, apply: backfillDocumentTimestamps},
	{name: migrationLowercaseUserEmails, apply: lowercaseUserEmails},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range registeredMigrations {
		applied, err := runMigration(db, migration)
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if applied && logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// runMigration applies one migration and records it inside a single transaction.
func runMigration(db *gorm.DB, migration migrationDefinition) (bool, error) {
	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var record migrationRecord
		err := tx.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(tx); err != nil {
			return err
		}
		applied = true
		return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
	})
	return applied && err == nil, err
}

// Documents imported before updatedAt existed carry zero; use createdAt so updated bounds behave.
func backfillDocumentTimestamps(db *gorm.DB) error {
	return db.Model(&model.Document{}).
		Where("updated_at_ms = 0 AND created_at_ms <> 0").
		Update("updated_at_ms", gorm.Expr("created_at_ms")).Error
}

// Email lookups compare lowercase addresses.
func lowercaseUserEmails(db *gorm.DB) error {
	return db.Model(&model.User{}).
		Where("email <> LOWER(email)").
		Update("email", gorm.Expr("LOWER(TRIM(email))")).Error
}
