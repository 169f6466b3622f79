// Package migration applies the embedded schema on startup so a fresh
// database is usable without any external tooling.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/entitle/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
)

// RunMigrations applies the embedded SQL migrations against a Postgres
// database.
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

// AutoMigrate builds the schema from the model definitions. Used for
// sqlite and mysql, where the embedded Postgres SQL does not apply.
// The partial unique index on unresolved alerts is Postgres-only;
// other dialects rely on the duplicate-tolerant insert path instead.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	return db.AutoMigrate(
		&tenantdomain.Workspace{},
		&tenantdomain.Namespace{},
		&tenantdomain.TierFeature{},
		&featuredomain.Feature{},
		&plandomain.Plan{},
		&plandomain.PlanFeature{},
		&plandomain.Assignment{},
		&boostdomain.Boost{},
		&usagedomain.Record{},
		&alertdomain.Record{},
		&webhookdomain.Webhook{},
		&webhookdomain.Delivery{},
	)
}
