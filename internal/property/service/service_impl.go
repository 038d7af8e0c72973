package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/orgcontext"
	"github.com/casaops/rentledger/internal/property/domain"
	"github.com/casaops/rentledger/pkg/db"
	"github.com/casaops/rentledger/pkg/db/option"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/casaops/rentledger/pkg/repository"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	propertyrepo repository.Repository[domain.Property]
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("property.service"),
		genID: p.GenID,

		propertyrepo: repository.ProvideStore[domain.Property](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePropertyRequest) (domain.Property, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Property{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Property{}, domain.ErrInvalidName
	}

	var ownerID snowflake.ID
	if trimmed := strings.TrimSpace(req.OwnerContactID); trimmed != "" {
		parsed, err := snowflake.ParseString(trimmed)
		if err != nil {
			return domain.Property{}, domain.ErrInvalidName
		}
		ownerID = parsed
	}

	now := time.Now().UTC()
	property := domain.Property{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		Code:           slug.Make(name),
		Name:           name,
		Address:        strings.TrimSpace(req.Address),
		City:           strings.TrimSpace(req.City),
		OwnerContactID: ownerID,
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.propertyrepo.Create(ctx, &property); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Same name slugged twice within the org; suffix with the ID tail.
			property.Code = fmt.Sprintf("%s-%d", property.Code, property.ID%10000)
			if retryErr := s.propertyrepo.Create(ctx, &property); retryErr != nil {
				return domain.Property{}, retryErr
			}
			return property, nil
		}
		return domain.Property{}, err
	}

	return property, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPropertyRequest) (domain.ListPropertyResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListPropertyResponse{}, domain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := &domain.Property{OrgID: orgID, City: strings.TrimSpace(req.City)}
	items, err := s.propertyrepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return domain.ListPropertyResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(property *domain.Property) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        property.ID.String(),
			CreatedAt: property.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	properties := make([]domain.Property, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		properties = append(properties, *item)
	}

	return domain.ListPropertyResponse{PageInfo: *pageInfo, Properties: properties}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Property, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Property{}, domain.ErrInvalidOrganization
	}

	propertyID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Property{}, domain.ErrPropertyNotFound
	}

	item, err := s.propertyrepo.FindOne(ctx, &domain.Property{ID: propertyID, OrgID: orgID})
	if err != nil {
		return domain.Property{}, err
	}
	if item == nil {
		return domain.Property{}, domain.ErrPropertyNotFound
	}

	return *item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	propertyID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrPropertyNotFound
	}

	return s.db.WithContext(ctx).Exec(
		`DELETE FROM properties WHERE org_id = ? AND id = ?`,
		orgID,
		propertyID,
	).Error
}
