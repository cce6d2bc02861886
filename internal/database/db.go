package database

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"barista/internal/models"
)

var DB *gorm.DB

// InitDB opens the database and migrates the barista tables. Supported
// dialects are sqlite3 and postgres.
func InitDB(dialect, dsn string) (*gorm.DB, error) {
	switch dialect {
	case "", "sqlite", "sqlite3":
		dialect = "sqlite3"
	case "postgres", "postgresql":
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == "sqlite3" {
		// sqlite allows a single writer
		db.DB().SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&models.BrewStatsRecord{}, &models.RecipeExecution{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	DB = db
	return db, nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// CloseDB closes the database connection
func CloseDB() error {
	if DB != nil {
		err := DB.Close()
		DB = nil
		return err
	}
	return nil
}
