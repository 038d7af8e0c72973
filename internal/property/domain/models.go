// Package domain contains models and contracts for rental properties.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"gorm.io/datatypes"
)

type Property struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_property_org_code,priority:1" json:"organization_id"`
	Code           string            `gorm:"not null;uniqueIndex:ux_property_org_code,priority:2" json:"code"`
	Name           string            `gorm:"not null" json:"name"`
	Address        string            `gorm:"type:text" json:"address,omitempty"`
	City           string            `gorm:"" json:"city,omitempty"`
	OwnerContactID snowflake.ID      `gorm:"index" json:"owner_contact_id,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Property) TableName() string { return "properties" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_property_name")
	ErrPropertyNotFound    = errors.New("property_not_found")
)

type CreatePropertyRequest struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	City           string `json:"city"`
	OwnerContactID string `json:"owner_contact_id"`
}

type ListPropertyRequest struct {
	pagination.Pagination
	City string `form:"city"`
}

type ListPropertyResponse struct {
	pagination.PageInfo
	Properties []Property `json:"properties"`
}

type Service interface {
	Create(ctx context.Context, req CreatePropertyRequest) (Property, error)
	List(ctx context.Context, req ListPropertyRequest) (ListPropertyResponse, error)
	GetByID(ctx context.Context, id string) (Property, error)
	Delete(ctx context.Context, id string) error
}
