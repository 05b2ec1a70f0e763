package database

import (
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/clinicsync/internal/entities"
)

// Models lists every table owned by the local replica, in migration order.
var Models = []any{
	&entities.Client{},
	&entities.Provider{},
	&entities.Appointment{},
	&entities.AppointmentService{},
	&entities.ProductSale{},
	&entities.SyncLog{},
	&entities.ClientVisitSummary{},
	&entities.ClientToxSummary{},
}

type Database struct {
	DB *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	return open(dbPath, logger.Warn)
}

// NewQuietDatabase opens the database with SQL logging silenced. Used by
// tests and the CLI.
func NewQuietDatabase(dbPath string) (*Database, error) {
	return open(dbPath, logger.Silent)
}

func open(dbPath string, level logger.LogLevel) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; callers inside a transaction must use tx only.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized successfully at %s", dbPath)

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the underlying connection is alive.
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Counts returns the number of rows per replica table, keyed by table name.
func (d *Database) Counts() (map[string]int64, error) {
	out := make(map[string]int64, len(Models))
	for _, m := range Models {
		stmt := &gorm.Statement{DB: d.DB}
		if err := stmt.Parse(m); err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		var n int64
		if err := d.DB.Model(m).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", stmt.Schema.Table, err)
		}
		out[stmt.Schema.Table] = n
	}
	return out, nil
}
