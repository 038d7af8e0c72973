package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/contact/domain"
	"github.com/casaops/rentledger/internal/orgcontext"
	"github.com/casaops/rentledger/pkg/db/pagination"
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
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contact.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateContactRequest) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}

	switch req.Kind {
	case domain.ContactKindOwner, domain.ContactKindTenant, domain.ContactKindVendor:
	default:
		return domain.Contact{}, domain.ErrInvalidKind
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Contact{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	contact := domain.Contact{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Kind:      req.Kind,
		Name:      name,
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &contact); err != nil {
		return domain.Contact{}, err
	}

	return contact, nil
}

func (s *Service) List(ctx context.Context, req domain.ListContactRequest) (domain.ListContactResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListContactResponse{}, domain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, orgID, req)
	if err != nil {
		return domain.ListContactResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(contact *domain.Contact) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        contact.ID.String(),
			CreatedAt: contact.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	contacts := make([]domain.Contact, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		contacts = append(contacts, *item)
	}

	return domain.ListContactResponse{PageInfo: *pageInfo, Contacts: contacts}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}

	contactID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Contact{}, domain.ErrContactNotFound
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, contactID)
	if err != nil {
		return domain.Contact{}, err
	}
	if item == nil {
		return domain.Contact{}, domain.ErrContactNotFound
	}

	return *item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	contactID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrContactNotFound
	}

	return s.repo.Delete(ctx, s.db, orgID, contactID)
}
