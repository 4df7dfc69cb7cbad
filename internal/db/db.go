package db

import (
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Handle struct {
	DB     *gorm.DB
	Path   string
	Driver string
}

// OpenAt otwiera lokalną bazę sqlite w katalogu aplikacji.
func OpenAt(dir string) (*Handle, error) {
	dbPath := filepath.Join(dir, "saunasync.db")
	h, err := Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	h.Path = dbPath
	return h, nil
}

// Open wybiera dialekt gorm po nazwie sterownika.
func Open(driver, dsn string) (*Handle, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		// busy_timeout: scheduler, mirror i serwer HTTP piszą równolegle
		dialector = sqlite.Open(dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // logger.Info jeśli potrzebny verbose SQL
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return &Handle{DB: gdb, Path: dsn, Driver: driver}, nil
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
