package catalog

import (
	"bytes"
	"encoding/json"
)

// PageResponse is the envelope of one catalog page. Items stays raw so the fetcher can tell
// an absent array from an empty one.
type PageResponse struct {
	Data *struct {
		Products *struct {
			Items json.RawMessage `json:"items"`
		} `json:"products"`
	} `json:"data"`
}

// RawItem is one product record as served by the catalog.
type RawItem struct {
	Slug          Text            `json:"slug"`
	NameFa        Text            `json:"nameFa"`
	NameEn        Text            `json:"nameEn"`
	DiscountPrice json.RawMessage `json:"discountPrice"`
	BasePrice     json.RawMessage `json:"basePrice"`
	ImageURL      Text            `json:"imageUrl"`
	Brand         json.RawMessage `json:"brand"`
}

// Brand is the nested brand object of an item.
type Brand struct {
	NameEn Text `json:"nameEn"`
}

// Text is a leniently decoded JSON string. Numbers keep their literal text;
// null and any other JSON type decode to an invalid Text instead of failing.
type Text struct {
	Value string
	Valid bool
}

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text{Value: s, Valid: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = Text{Value: n.String(), Valid: true}
	}
	return nil
}

// Ptr returns nil for an invalid or empty Text.
func (t Text) Ptr() *string {
	if !t.Valid || t.Value == "" {
		return nil
	}
	v := t.Value
	return &v
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
