package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the canonical catalog entry stored in catalog.products.
// Prices are nullable: an unknown price is NULL, never zero.
type Product struct {
	ID            int64               `json:"id"`
	URL           string              `json:"url"`
	Name          string              `json:"name"`
	NameFa        *string             `json:"nameFa"`
	NameEn        *string             `json:"nameEn"`
	BasePrice     decimal.NullDecimal `json:"basePrice"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	ImageURL      *string             `json:"imageUrl"`
	CreateTime    time.Time           `json:"createTime"`
	UpdateTime    time.Time           `json:"updateTime"`
	DeleteTime    *time.Time          `json:"deleteTime"`
	IsDeleted     bool                `json:"isDeleted"`
}

// ProductInput carries the mutable fields of a Product.
// It is produced by the catalog mapper and by façade create/update requests.
type ProductInput struct {
	URL           string
	Name          string
	NameFa        *string
	NameEn        *string
	BasePrice     decimal.NullDecimal
	DiscountPrice decimal.NullDecimal
	ImageURL      *string
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
