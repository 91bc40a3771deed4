package main

import (
	"log"

	"clinic-inbox/internal/config"
	"clinic-inbox/internal/database"
	"clinic-inbox/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

// Copies contacts, messages and prompts from the SQLite file at DB_PATH into
// the Postgres database described by DB_HOST and friends. Rows already present
// in Postgres are left alone, so the copy can be re-run.
func main() {
	cfg := config.LoadConfig()

	// 1. Connect to SQLite (Source)
	sqliteDB, err := database.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to connect to SQLite: %v", err)
	}
	log.Printf("Connected to SQLite at %s", cfg.DBPath)

	// 2. Connect to PostgreSQL (Destination)
	pgDB, err := database.OpenPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	log.Println("Starting data migration...")

	// Contacts first; messages reference them.
	migrateTable[models.Contact](sqliteDB, pgDB, "contacts")
	migrateTable[models.Message](sqliteDB, pgDB, "messages")
	migrateTable[models.Prompt](sqliteDB, pgDB, "prompts")

	// Activation is exclusive; repair a destination that ended up with more
	// than one active persona after merging.
	var active []models.Prompt
	if err := pgDB.Where("is_active = ?", true).Order("updated_at DESC").Find(&active).Error; err != nil {
		log.Printf("Error checking active prompts: %v", err)
	} else if len(active) > 1 {
		if err := pgDB.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Model(&models.Prompt{}).
			Update("is_active", gorm.Expr("id = ?", active[0].ID)).Error; err != nil {
			log.Printf("Error repairing active prompt: %v", err)
		} else {
			log.Printf("Kept %s as the only active prompt", active[0].ID)
		}
	}

	log.Println("Migration completed!")
}

func migrateTable[T any](src, dst *gorm.DB, tableName string) {
	log.Printf("Migrating table: %s", tableName)

	var rows []T
	if err := src.Find(&rows).Error; err != nil {
		log.Printf("Error reading %s from SQLite: %v", tableName, err)
		return
	}
	if len(rows) == 0 {
		log.Printf("Nothing to migrate for %s", tableName)
		return
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, batchSize).Error
	})
	if err != nil {
		log.Printf("Error writing %s to Postgres: %v", tableName, err)
		return
	}
	log.Printf("Successfully migrated %d rows of %s", len(rows), tableName)
}
