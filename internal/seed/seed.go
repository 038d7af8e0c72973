// Package seed provisions the rows the server expects at boot.
package seed

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/organization/domain"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EnsureOrg creates the named organization if it does not exist yet and
// returns its ID either way.
func EnsureOrg(ctx context.Context, db *gorm.DB, genID *snowflake.Node, log *zap.Logger, name string) (snowflake.ID, error) {
	return ensureOrg(ctx, db, log, name, genID.Generate())
}

// EnsureOrgWithID pins the organization to a fixed ID, for installs that
// reference the org from external config.
func EnsureOrgWithID(ctx context.Context, db *gorm.DB, log *zap.Logger, name string, id snowflake.ID) (snowflake.ID, error) {
	return ensureOrg(ctx, db, log, name, id)
}

func ensureOrg(ctx context.Context, db *gorm.DB, log *zap.Logger, name string, id snowflake.ID) (snowflake.ID, error) {
	code := slug.Make(name)

	var existing domain.Organization
	if err := db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE slug = ?`, code,
	).Scan(&existing).Error; err != nil {
		return 0, err
	}
	if existing.ID != 0 {
		return existing.ID, nil
	}

	now := time.Now().UTC()
	org := domain.Organization{
		ID:        id,
		Name:      name,
		Slug:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(&org).Error; err != nil {
		return 0, err
	}

	log.Info("organization seeded", zap.String("slug", code), zap.String("org_id", org.ID.String()))
	return org.ID, nil
}
