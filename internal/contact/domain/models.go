// Package domain contains models and contracts for rental contacts:
// property owners, lease occupants and vendors.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContactKind string

const (
	ContactKindOwner  ContactKind = "owner"
	ContactKindTenant ContactKind = "tenant"
	ContactKindVendor ContactKind = "vendor"
)

type Contact struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Kind      ContactKind       `gorm:"type:text;not null" json:"kind"`
	Name      string            `gorm:"not null" json:"name"`
	Email     string            `gorm:"" json:"email,omitempty"`
	Phone     string            `gorm:"" json:"phone,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Contact) TableName() string { return "contacts" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKind         = errors.New("invalid_contact_kind")
	ErrInvalidName         = errors.New("invalid_contact_name")
	ErrContactNotFound     = errors.New("contact_not_found")
)

type CreateContactRequest struct {
	Kind  ContactKind `json:"kind"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Phone string      `json:"phone"`
}

type ListContactRequest struct {
	pagination.Pagination
	Kind string `form:"kind"`
	Name string `form:"name"`
}

type ListContactResponse struct {
	pagination.PageInfo
	Contacts []Contact `json:"contacts"`
}

type Service interface {
	Create(ctx context.Context, req CreateContactRequest) (Contact, error)
	List(ctx context.Context, req ListContactRequest) (ListContactResponse, error)
	GetByID(ctx context.Context, id string) (Contact, error)
	Delete(ctx context.Context, id string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contact *Contact) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Contact, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListContactRequest) ([]*Contact, error)
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
}
