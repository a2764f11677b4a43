// Package store opens the SQLite database behind the job queue and owns the
// schema bootstrap: tables, constraints and the admin account.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sorter/internal/apperr"
	"sorter/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dsnParams: foreign keys on every connection, writers take the lock at
// BEGIN so concurrent claims queue on busy_timeout instead of failing on
// a read-to-write upgrade.
const dsnParams = "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// Open 连接 SQLite 并自动建表。目录不存在时先创建。
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?"+dsnParams), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates missing tables. Existing rows are left alone.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Order{}, &model.LineItem{}, &model.EventLog{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// Close releases the pooled connections behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureAdmin creates the admin account when it does not exist yet and
// returns its id. An existing account keeps its password.
func EnsureAdmin(db *gorm.DB, username, password string) (int64, error) {
	if username == "" || password == "" {
		return 0, fmt.Errorf("%w: admin username and password are required", apperr.ErrInvalidArgument)
	}
	id, err := FindUserID(db, username)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash admin password: %w", err)
	}
	u := &model.User{Username: username, PasswordHash: string(hash), Role: model.RoleAdmin}
	if err := db.Create(u).Error; err != nil {
		return 0, fmt.Errorf("%w: create admin: %w", apperr.ErrStore, err)
	}
	return u.ID, nil
}

// FindUserID looks a user up by username.
func FindUserID(db *gorm.DB, username string) (int64, error) {
	var u model.User
	err := db.Select("id").Where("username = ?", username).Take(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: user %q", apperr.ErrNotFound, username)
		}
		return 0, fmt.Errorf("%w: find user %q: %w", apperr.ErrStore, username, err)
	}
	return u.ID, nil
}
