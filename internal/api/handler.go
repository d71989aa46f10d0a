package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

const requestTimeout = 5 * time.Second

// ProductService defines the store operations needed by the handler.
type ProductService interface {
	Create(ctx context.Context, in model.ProductInput) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	List(ctx context.Context, limit, offset int) ([]model.Product, error)
	SearchByName(ctx context.Context, name string, limit, offset int) ([]model.Product, error)
	SearchByPriceRange(ctx context.Context, minPrice, maxPrice decimal.Decimal, limit, offset int) ([]model.Product, error)
	Update(ctx context.Context, id int64, in model.ProductInput) (int64, error)
	SoftDelete(ctx context.Context, id int64) (bool, error)
}

// ProductHandler serves the product query and maintenance routes.
type ProductHandler struct {
	logger  *zap.Logger
	service ProductService
}

func NewProductHandler(logger *zap.Logger, service ProductService) *ProductHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductHandler{logger: logger, service: service}
}

// ListProducts handles GET /products.
func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	limit, offset, errs := parsePagination(c)
	if len(errs) > 0 {
		return fail(c, fiber.StatusBadRequest, "Invalid pagination", errs...)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	products, err := h.service.List(ctx, limit, offset)
	if err != nil {
		return h.storeError(c, "api.list_products.failed", err)
	}
	return success(c, fiber.StatusOK, "Products retrieved successfully", products)
}

// GetProduct handles GET /products/:id.
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	id, fe := parseID(c)
	if fe != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid product id", *fe)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	product, err := h.service.GetByID(ctx, id)
	if err != nil {
		return h.storeError(c, "api.get_product.failed", err)
	}
	return success(c, fiber.StatusOK, "Product retrieved successfully", product)
}

// SearchByName handles GET /products/search/name. An empty result is a 404.
func (h *ProductHandler) SearchByName(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Query("name"))
	limit, offset, errs := parsePagination(c)
	if name == "" {
		errs = append(errs, FieldError{"name", "name is required"})
	}
	if len(errs) > 0 {
		return fail(c, fiber.StatusBadRequest, "Invalid search", errs...)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	products, err := h.service.SearchByName(ctx, name, limit, offset)
	if err != nil {
		return h.storeError(c, "api.search_by_name.failed", err)
	}
	if len(products) == 0 {
		return fail(c, fiber.StatusNotFound, "No products found matching the name")
	}
	return success(c, fiber.StatusOK, "Products retrieved successfully", products)
}

// SearchByPrice handles GET /products/search/price with inclusive bounds.
func (h *ProductHandler) SearchByPrice(c *fiber.Ctx) error {
	limit, offset, errs := parsePagination(c)
	minPrice, minErr := parsePriceParam(c, "min_price")
	maxPrice, maxErr := parsePriceParam(c, "max_price")
	if minErr != nil {
		errs = append(errs, *minErr)
	}
	if maxErr != nil {
		errs = append(errs, *maxErr)
	}
	if minErr == nil && maxErr == nil && minPrice.GreaterThan(maxPrice) {
		errs = append(errs, FieldError{"min_price", "min_price must be less than or equal to max_price"})
	}
	if len(errs) > 0 {
		return fail(c, fiber.StatusBadRequest, "Invalid price range", errs...)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	products, err := h.service.SearchByPriceRange(ctx, minPrice, maxPrice, limit, offset)
	if err != nil {
		return h.storeError(c, "api.search_by_price.failed", err)
	}
	return success(c, fiber.StatusOK, "Products retrieved successfully", products)
}

// CreateProduct handles POST /products. Under the upsert policy a url that already
// belongs to a live product replaces that product in place; the response is then 200
// instead of 201. A fresh row has create_time equal to update_time, an upserted one does not.
func (h *ProductHandler) CreateProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", FieldError{"body", err.Error()})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return fail(c, fiber.StatusBadRequest, "Validation failed", errs...)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	id, err := h.service.Create(ctx, req.toInput())
	if err != nil {
		return h.storeError(c, "api.create_product.failed", err)
	}

	product, err := h.service.GetByID(ctx, id)
	if err != nil {
		return h.storeError(c, "api.create_product.reload_failed", err)
	}
	if !product.UpdateTime.Equal(product.CreateTime) {
		return success(c, fiber.StatusOK, "Product already existed and was updated", product)
	}
	return success(c, fiber.StatusCreated, "Product created successfully", product)
}

// UpdateProduct handles PUT /products/:id as a full replace.
func (h *ProductHandler) UpdateProduct(c *fiber.Ctx) error {
	id, fe := parseID(c)
	if fe != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid product id", *fe)
	}
	var req ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", FieldError{"body", err.Error()})
	}
	if errs := req.Validate(); len(errs) > 0 {
		return fail(c, fiber.StatusBadRequest, "Validation failed", errs...)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	affected, err := h.service.Update(ctx, id, req.toInput())
	if err != nil {
		return h.storeError(c, "api.update_product.failed", err)
	}
	if affected == 0 {
		return fail(c, fiber.StatusNotFound, "Product not found or already deleted")
	}

	product, err := h.service.GetByID(ctx, id)
	if err != nil {
		return h.storeError(c, "api.update_product.reload_failed", err)
	}
	return success(c, fiber.StatusOK, "Product updated successfully", product)
}

// DeleteProduct handles DELETE /products/:id as a soft delete.
func (h *ProductHandler) DeleteProduct(c *fiber.Ctx) error {
	id, fe := parseID(c)
	if fe != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid product id", *fe)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	deleted, err := h.service.SoftDelete(ctx, id)
	if err != nil {
		return h.storeError(c, "api.delete_product.failed", err)
	}
	if !deleted {
		return fail(c, fiber.StatusNotFound, "Product not found or already deleted")
	}
	return success(c, fiber.StatusOK, "Product deleted successfully", nil)
}

// storeError maps a store failure onto the response envelope.
func (h *ProductHandler) storeError(c *fiber.Ctx, event string, err error) error {
	switch {
	case model.IsNotFound(err):
		return fail(c, fiber.StatusNotFound, "Product not found")
	case errors.Is(err, model.ErrDeleted):
		return fail(c, fiber.StatusConflict, "A deleted product already uses this url",
			FieldError{"url", err.Error()})
	case errors.Is(err, model.ErrDuplicateURL):
		return fail(c, fiber.StatusConflict, "Another product already uses this url",
			FieldError{"url", err.Error()})
	default:
		h.logger.Error(event, zap.String("path", c.Path()), zap.Error(err))
		return internalError(c)
	}
}
