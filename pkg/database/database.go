package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/pkg/config"
)

var DB *gorm.DB

// InvoiceNumberIndex is the partial unique index backing invoice-number
// uniqueness. It is the authoritative check: the allocator only proposes
// candidates, and two concurrent proposals race here. Scoping the index to
// deleted_at IS NULL makes soft-deleted numbers immediately reusable.
const InvoiceNumberIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_number_owner_active
ON invoices (invoice_number, user_id)
WHERE deleted_at IS NULL`

// InitDB initializes the database connection with the provided configuration
func InitDB(cfg *config.Config) error {
	// Connect with PreferSimpleProtocol to prevent "prepared statement
	// already exists" errors behind connection poolers
	pgConfig := postgres.Config{
		DSN:                  cfg.DB.GetDSN(),
		PreferSimpleProtocol: true,
	}

	var err error
	DB, err = gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.DB.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return err
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	if cfg.DB.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	}
	if cfg.DB.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}
	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}

	// AutoMigrate will automatically create or update the table structure
	// based on our models
	err = DB.AutoMigrate(
		&model.User{},
		&model.Company{},
		&model.CompanyUser{},
		&model.Client{},
		&model.Invoice{},
		&model.InvoiceLineItem{},
		&model.AuditLog{},
	)
	if err != nil {
		return err
	}

	// AutoMigrate cannot express a partial unique index, so it is declared
	// directly.
	return DB.Exec(InvoiceNumberIndex).Error
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
