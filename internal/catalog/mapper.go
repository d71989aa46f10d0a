package catalog

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// Mapper converts raw catalog items into canonical product input.
type Mapper struct {
	basePath string
}

// NewMapper builds product URLs under basePath.
func NewMapper(basePath string) *Mapper {
	return &Mapper{basePath: strings.TrimRight(basePath, "/")}
}

// Map never fails: absent or malformed optional fields become nil.
func (m *Mapper) Map(item RawItem) model.ProductInput {
	return model.ProductInput{
		URL:           m.ProductURL(item.Slug.Value),
		Name:          brandName(item.Brand),
		NameFa:        item.NameFa.Ptr(),
		NameEn:        item.NameEn.Ptr(),
		BasePrice:     ParsePrice(item.BasePrice),
		DiscountPrice: ParsePrice(item.DiscountPrice),
		ImageURL:      item.ImageURL.Ptr(),
	}
}

// ProductURL joins the base path and slug with exactly one slash.
func (m *Mapper) ProductURL(slug string) string {
	return m.basePath + "/" + strings.TrimLeft(strings.TrimSpace(slug), "/")
}

func brandName(raw json.RawMessage) string {
	var b Brand
	if err := json.Unmarshal(raw, &b); err != nil {
		return ""
	}
	return b.NameEn.Value
}

// ParsePrice accepts a JSON number or a numeric string. Anything else, including
// negative amounts, is an unknown price.
func ParsePrice(raw json.RawMessage) decimal.NullDecimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.NullDecimal{}
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return decimal.NullDecimal{}
		}
		text = strings.TrimSpace(s)
	}

	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
