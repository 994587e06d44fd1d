package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsLegacyRows(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := Migrate(database); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	document := model.Document{
		ID:        "doc-1",
		Name:      "contract.pdf",
		AuthorID:  "user-1",
		CreatedAt: 1700000000000,
	}
	if err := database.Create(&document).Error; err != nil {
		testContext.Fatalf("failed to insert document: %v", err)
	}
	user := model.User{ID: "user-1", Email: "Ann@Example.COM", Type: model.UserTypeStandard, Status: model.UserStatusActive}
	if err := database.Create(&user).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored model.Document
	if err := database.Where("id = ?", document.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload document: %v", err)
	}
	if stored.UpdatedAt != document.CreatedAt {
		testContext.Fatalf("expected updatedAt to be backfilled, got %d", stored.UpdatedAt)
	}

	var storedUser model.User
	if err := database.Where("id = ?", user.ID).Take(&storedUser).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if storedUser.Email != "ann@example.com" {
		testContext.Fatalf("expected lowercase email, got %s", storedUser.Email)
	}

	for _, name := range []string{migrationBackfillDocumentTimestamps, migrationLowercaseUserEmails} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set for %s", name)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-running migrations should be a no-op: %v", err)
	}
}
