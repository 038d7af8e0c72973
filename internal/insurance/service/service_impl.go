package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/insurance/domain"
	"github.com/casaops/rentledger/internal/orgcontext"
	"github.com/casaops/rentledger/pkg/db/option"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/casaops/rentledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
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

	policyrepo repository.Repository[domain.InsurancePolicy]
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("insurance.service"),
		genID: p.GenID,

		policyrepo: repository.ProvideStore[domain.InsurancePolicy](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePolicyRequest) (domain.InsurancePolicy, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.InsurancePolicy{}, domain.ErrInvalidOrganization
	}

	propertyID, err := snowflake.ParseString(strings.TrimSpace(req.PropertyID))
	if err != nil {
		return domain.InsurancePolicy{}, domain.ErrInvalidPolicy
	}
	insurer := strings.TrimSpace(req.Insurer)
	number := strings.TrimSpace(req.PolicyNumber)
	if insurer == "" || number == "" || req.PremiumAmount < 0 {
		return domain.InsurancePolicy{}, domain.ErrInvalidPolicy
	}
	if req.EndDate.Before(req.StartDate) {
		return domain.InsurancePolicy{}, domain.ErrInvalidPolicy
	}

	now := time.Now().UTC()
	policy := domain.InsurancePolicy{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		PropertyID:    propertyID,
		Insurer:       insurer,
		PolicyNumber:  number,
		PremiumAmount: req.PremiumAmount,
		StartDate:     req.StartDate.UTC(),
		EndDate:       req.EndDate.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.policyrepo.Create(ctx, &policy); err != nil {
		return domain.InsurancePolicy{}, err
	}

	return policy, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPolicyRequest) (domain.ListPolicyResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListPolicyResponse{}, domain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := &domain.InsurancePolicy{OrgID: orgID}
	if trimmed := strings.TrimSpace(req.PropertyID); trimmed != "" {
		propertyID, err := snowflake.ParseString(trimmed)
		if err != nil {
			return domain.ListPolicyResponse{}, domain.ErrInvalidPolicy
		}
		filter.PropertyID = propertyID
	}

	items, err := s.policyrepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return domain.ListPolicyResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(policy *domain.InsurancePolicy) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        policy.ID.String(),
			CreatedAt: policy.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	policies := make([]domain.InsurancePolicy, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		policies = append(policies, *item)
	}

	return domain.ListPolicyResponse{PageInfo: *pageInfo, Policies: policies}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.InsurancePolicy, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.InsurancePolicy{}, domain.ErrInvalidOrganization
	}

	policyID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.InsurancePolicy{}, domain.ErrPolicyNotFound
	}

	item, err := s.policyrepo.FindOne(ctx, &domain.InsurancePolicy{ID: policyID, OrgID: orgID})
	if err != nil {
		return domain.InsurancePolicy{}, err
	}
	if item == nil {
		return domain.InsurancePolicy{}, domain.ErrPolicyNotFound
	}

	return *item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	policyID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.ErrPolicyNotFound
	}

	return s.db.WithContext(ctx).Exec(
		`DELETE FROM insurance_policies WHERE org_id = ? AND id = ?`,
		orgID,
		policyID,
	).Error
}
