package database

import (
	"fmt"
	"log"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Initialize(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.BricksetSet{},
		&models.PriceCache{},
		&models.ResearchJob{},
		&models.Purchase{},
	); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	// Migrations: older installs predate the composite unique index
	if err := ensurePriceCacheUniqueIndex(db); err != nil {
		log.Printf("Migration warning: %v", err)
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// ensurePriceCacheUniqueIndex guarantees the (set_number, source) unique
// index on price_caches exists; the cache upsert relies on it.
func ensurePriceCacheUniqueIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&models.PriceCache{}, "idx_price_cache_set_source") {
		return nil
	}

	if err := db.Migrator().CreateIndex(&models.PriceCache{}, "idx_price_cache_set_source"); err == nil {
		log.Println("Added unique index idx_price_cache_set_source via GORM migrator")
		return nil
	}

	// Fallback to raw SQL (in case migrator fails)
	createSQL := `CREATE UNIQUE INDEX idx_price_cache_set_source ON price_caches (set_number, source)`
	if err := db.Exec(createSQL).Error; err != nil {
		return fmt.Errorf("failed creating idx_price_cache_set_source: %w", err)
	}
	log.Println("Added unique index idx_price_cache_set_source to price_caches")
	return nil
}
