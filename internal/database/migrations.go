package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeIdentityEmails   = "2024-06-01_normalize_identity_emails"
	migrationPartialIdentityEmailIndex = "2024-07-01_partial_identity_email_index"
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
		{name: migrationNormalizeIdentityEmails, apply: normalizeIdentityEmails},
		{name: migrationPartialIdentityEmailIndex, apply: partialIdentityEmailIndex},
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
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeIdentityEmails folds stored emails to the trimmed lower-case form the resolver writes.
func normalizeIdentityEmails(db *gorm.DB) error {
	return db.Model(&users.Identity{}).
		Where("email <> lower(trim(email))").
		Update("email", gorm.Expr("lower(trim(email))")).Error
}

// partialIdentityEmailIndex rebuilds the email index so identities without an email do not collide.
func partialIdentityEmailIndex(db *gorm.DB) error {
	if err := db.Exec("DROP INDEX IF EXISTS idx_identities_email").Error; err != nil {
		return err
	}
	return db.Exec("CREATE UNIQUE INDEX idx_identities_email ON identities(email) WHERE email <> ''").Error
}
