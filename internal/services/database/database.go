package database

import (
	"fmt"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// DB wraps the gorm handle with close and pool management.
type DB struct {
	*gorm.DB
	config     models.DatabaseConfig
	driverName string
}

// New opens the configured database and verifies connectivity.
func New(config models.DatabaseConfig) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch config.Type {
	case models.PostgreSQL:
		db, err = newPostgreSQL(config)
	case models.MySQL:
		db, err = newMySQL(config)
	case models.SQLite:
		db, err = newSQLite(config)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	db.setConnectionPool()
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", config.Type, err)
	}

	fiberlog.Infof("Database: connected (%s)", db.driverName)
	return db, nil
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) Ping() error {
	if db.DB == nil {
		return fmt.Errorf("database not connected")
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (db *DB) DriverName() string {
	return db.driverName
}

func (db *DB) setConnectionPool() {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}

	if db.config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(db.config.MaxOpenConns)
	}
	if db.config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(db.config.MaxIdleConns)
	}
	if db.config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(db.config.ConnMaxLifetime) * time.Second)
	}
}
