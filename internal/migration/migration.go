// Package migration creates the core schema on startup so a fresh
// install is usable out of the box for local and self-hosted setups.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	contactdomain "github.com/casaops/rentledger/internal/contact/domain"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	insurancedomain "github.com/casaops/rentledger/internal/insurance/domain"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	orgdomain "github.com/casaops/rentledger/internal/organization/domain"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	propertydomain "github.com/casaops/rentledger/internal/property/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate covers the non-postgres dialects, mainly sqlite for local
// development and tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&orgdomain.Organization{},
		&contactdomain.Contact{},
		&propertydomain.Property{},
		&insurancedomain.InsurancePolicy{},
		&contractdomain.Contract{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
		&paymentdomain.Payment{},
	)
}
