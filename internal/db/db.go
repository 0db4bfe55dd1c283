// Package db opens the sqlite database holding the history of discovered
// servers.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Server is one distinct endpoint that has sent an offer.
type Server struct {
	ID        uint   `gorm:"primaryKey"`
	Address   string `gorm:"not null;uniqueIndex:idx_server_endpoint"`
	TCPPort   int    `gorm:"not null;uniqueIndex:idx_server_endpoint"`
	UDPPort   int    `gorm:"not null;uniqueIndex:idx_server_endpoint"`
	FirstSeen int64
	LastSeen  int64
	Offers    int64 `gorm:"not null;default:1"`
}

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Server{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
