package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

func (r ProductRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.URL) == "" {
		errs = append(errs, FieldError{"url", "url is required"})
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, FieldError{"name", "name is required"})
	}
	if strings.TrimSpace(r.NameFa) == "" {
		errs = append(errs, FieldError{"nameFa", "nameFa is required"})
	}
	if r.BasePrice.Valid && r.BasePrice.Decimal.IsNegative() {
		errs = append(errs, FieldError{"basePrice", "basePrice must not be negative"})
	}
	if r.DiscountPrice.Valid && r.DiscountPrice.Decimal.IsNegative() {
		errs = append(errs, FieldError{"discountPrice", "discountPrice must not be negative"})
	}
	return errs
}

// parsePagination reads limit and offset. Absent values default to 10 and 0.
func parsePagination(c *fiber.Ctx) (int, int, []FieldError) {
	var errs []FieldError

	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			errs = append(errs, FieldError{"limit", "limit must be an integer between 1 and 100"})
		} else {
			limit = n
		}
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{"offset", "offset must be a non-negative integer"})
		} else {
			offset = n
		}
	}
	return limit, offset, errs
}

func parseID(c *fiber.Ctx) (int64, *FieldError) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, &FieldError{"id", "id must be a positive integer"}
	}
	return id, nil
}

func parsePriceParam(c *fiber.Ctx, name string) (decimal.Decimal, *FieldError) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return decimal.Zero, &FieldError{name, name + " is required"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &FieldError{name, name + " must be a number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &FieldError{name, name + " must not be negative"}
	}
	return d, nil
}
