package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/versuslab/versus/backend/internal/identity"
	"github.com/versuslab/versus/backend/internal/votes"
)

func TestApplyMigrationsRecountsProfileVoteTotals(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&identity.Profile{}, &votes.Vote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	// A profile whose stored count drifted from its ledger rows.
	profile := identity.Profile{
		ID:        "drifted",
		Name:      "Drifted",
		Email:     "drifted@example.com",
		Votes:     9,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := database.Create(&profile).Error; err != nil {
		testContext.Fatalf("failed to insert profile: %v", err)
	}
	ledger := []votes.Vote{
		{VoterID: "a", VotedForID: "drifted", CreatedAt: time.Now().UTC()},
		{VoterID: "b", VotedForID: "drifted", CreatedAt: time.Now().UTC()},
	}
	if err := database.Create(&ledger).Error; err != nil {
		testContext.Fatalf("failed to insert votes: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored identity.Profile
	if err := database.Where("id = ?", "drifted").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if stored.Votes != 2 {
		testContext.Fatalf("expected recounted total 2, got %d", stored.Votes)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRecountProfileVoteTotals).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&identity.Profile{}, &votes.Vote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	var firstRecord migrationRecord
	if err := database.Where("name = ?", migrationRecountProfileVoteTotals).Take(&firstRecord).Error; err != nil {
		testContext.Fatalf("expected migration record: %v", err)
	}

	// Drift introduced after the migration ran must not be touched again.
	profile := identity.Profile{
		ID:        "later",
		Name:      "Later",
		Email:     "later@example.com",
		Votes:     5,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := database.Create(&profile).Error; err != nil {
		testContext.Fatalf("failed to insert profile: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}

	var stored identity.Profile
	if err := database.Where("id = ?", "later").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if stored.Votes != 5 {
		testContext.Fatalf("expected count untouched on rerun, got %d", stored.Votes)
	}
}
