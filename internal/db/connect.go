// Package db manages GORM connections and schema migration.
package db

import (
	"fmt"

	"github.com/zulandar/missionctl/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL-compatible DSN.
func DSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// Connect opens a GORM connection to a MySQL-compatible server.
func Connect(host string, port int, database string) (*gorm.DB, error) {
	dsn := DSN(host, port, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// ConnectAdmin opens a GORM connection to the server without selecting a
// database, used for CREATE DATABASE operations.
func ConnectAdmin(host string, port int) (*gorm.DB, error) {
	dsn := fmt.Sprintf("root@tcp(%s:%d)/?parseTime=true", host, port)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", host, port, err)
	}
	return db, nil
}

// OpenSQLite opens a GORM connection to an embedded SQLite database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	return db, nil
}

// Open connects using whichever backend the config selects.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Database.Path)
	case "mysql":
		return Connect(cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	}
	return nil, fmt.Errorf("db: unsupported driver %q", cfg.Database.Driver)
}

// CreateDatabase creates the named database if it doesn't already exist.
// MySQL only; SQLite files are created on open.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops the named database if it exists.
func DropDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: drop database %s: %w", name, err)
	}
	return nil
}
