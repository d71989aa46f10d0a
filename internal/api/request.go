package api

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// ProductRequest is the payload for creating or replacing a product.
// Prices accept JSON numbers, numeric strings or null.
type ProductRequest struct {
	URL           string              `json:"url" example:"https://www.khanoumi.com/products/matte-lipstick"`
	Name          string              `json:"name" example:"Maybelline"`
	NameFa        string              `json:"nameFa" example:"رژ لب مات"`
	NameEn        string              `json:"nameEn" example:"Matte Lipstick"`
	BasePrice     decimal.NullDecimal `json:"basePrice" example:"120000"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice" example:"99000"`
	ImageURL      string              `json:"imageUrl"`
}

func (r ProductRequest) toInput() model.ProductInput {
	return model.ProductInput{
		URL:           strings.TrimSpace(r.URL),
		Name:          strings.TrimSpace(r.Name),
		NameFa:        model.StringPtr(strings.TrimSpace(r.NameFa)),
		NameEn:        model.StringPtr(strings.TrimSpace(r.NameEn)),
		BasePrice:     r.BasePrice,
		DiscountPrice: r.DiscountPrice,
		ImageURL:      model.StringPtr(strings.TrimSpace(r.ImageURL)),
	}
}
