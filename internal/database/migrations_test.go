package database

import (
	"path/filepath"
	"testing"

	"github.com/MeshVSC/SparkV2/internal/sparks"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openMigrationDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&sparks.Spark{}, &sparks.Tag{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsBackfillsSparkLevels(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	spark := sparks.Spark{
		SparkID: "spark-1",
		UserID:  "user-1",
		Title:   "legacy spark",
		Stage:   sparks.StageSeedling,
		Level:   0,
	}
	if err := database.Create(&spark).Error; err != nil {
		testContext.Fatalf("failed to insert spark: %v", err)
	}
	// Column defaults fill zero values on insert, so force the legacy state.
	if err := database.Model(&sparks.Spark{}).Where("spark_id = ?", spark.SparkID).Update("level", 0).Error; err != nil {
		testContext.Fatalf("failed to zero level: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored sparks.Spark
	if err := database.Where("spark_id = ?", spark.SparkID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload spark: %v", err)
	}
	if stored.Level != 1 {
		testContext.Fatalf("expected backfilled level 1, got %d", stored.Level)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillSparkLevels).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsBackfillsTagColors(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	tag := sparks.Tag{
		TagID:  "tag-1",
		UserID: "user-1",
		Name:   "ideas",
		Color:  "",
	}
	if err := database.Create(&tag).Error; err != nil {
		testContext.Fatalf("failed to insert tag: %v", err)
	}
	if err := database.Model(&sparks.Tag{}).Where("tag_id = ?", tag.TagID).Update("color", "").Error; err != nil {
		testContext.Fatalf("failed to clear color: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored sparks.Tag
	if err := database.Where("tag_id = ?", tag.TagID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload tag: %v", err)
	}
	if stored.Color != "#888888" {
		testContext.Fatalf("expected backfilled color, got %q", stored.Color)
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply should be a no-op: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}
