package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/versuslab/versus/backend/internal/articles"
	"github.com/versuslab/versus/backend/internal/identity"
	"github.com/versuslab/versus/backend/internal/notifications"
	"github.com/versuslab/versus/backend/internal/votes"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// TranslateError lets unique-key violations surface as gorm.ErrDuplicatedKey,
// which the vote recorder and registration path depend on.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&identity.Profile{},
		&votes.Vote{},
		&notifications.Notification{},
		&articles.Article{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
