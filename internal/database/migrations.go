package database

import (
	"errors"
	"time"

	"github.com/MeshVSC/SparkV2/internal/sparks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillSparkLevels = "2026-08-12_backfill_spark_levels"
	migrationBackfillTagColors   = "2026-08-12_backfill_tag_colors"
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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSparkLevels, apply: backfillSparkLevels},
		{name: migrationBackfillTagColors, apply: backfillTagColors},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows created before levels existed carry a zero value; treat them as level one.
func backfillSparkLevels(db *gorm.DB) error {
	return db.Model(&sparks.Spark{}).
		Where("level <= 0").
		Update("level", 1).Error
}

func backfillTagColors(db *gorm.DB) error {
	return db.Model(&sparks.Tag{}).
		Where("color = '' OR color IS NULL").
		Update("color", "#888888").Error
}
