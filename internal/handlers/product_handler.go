package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"katalog/internal/assets"
	"katalog/internal/middleware"
	"katalog/internal/query"
	"katalog/internal/services"
)

// Multipart field names of uploaded images.
const (
	FieldMainImage        = "mainImage"
	FieldAdditionalImages = "additionalImages"
)

// ProductHandler handles HTTP requests for products.
type ProductHandler struct {
	service *services.ProductService
	logger  *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		service: service,
		logger:  logger.Named("http"),
	}
}

// RegisterRoutes registers the product routes. Reads are public, writes go
// through auth.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	products := router.Group("/products")
	products.Get("/", h.HandleListProducts)
	products.Get("/categories", h.HandleGetCategories)
	products.Get("/mine", auth, h.HandleListMyProducts)
	products.Get("/:id", h.HandleGetProductByID)
	products.Post("/", auth, h.HandleCreateProduct)
	products.Put("/:id", auth, h.HandleUpdateProduct)
	products.Delete("/:id", auth, h.HandleDeleteProduct)
	products.Post("/:id/images", auth, h.HandleAttachImages)
	// Keys fit in a path segment; URLs are passed as ?image=.
	products.Delete("/:id/images", auth, h.HandleRemoveImage)
	products.Delete("/:id/images/:image", auth, h.HandleRemoveImage)
}

// HandleListProducts lists products matching the query string filters.
func (h *ProductHandler) HandleListProducts(c *fiber.Ctx) error {
	return h.list(c, c.Queries())
}

// HandleListMyProducts lists the requester's products, inactive ones
// included unless the active filter says otherwise.
func (h *ProductHandler) HandleListMyProducts(c *fiber.Ctx) error {
	params := c.Queries()
	params["ownerId"] = middleware.UserID(c)
	if params["active"] == "" {
		params["active"] = query.ActiveAll
	}
	return h.list(c, params)
}

func (h *ProductHandler) list(c *fiber.Ctx, params map[string]string) error {
	q, err := query.Parse(params)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	items, pagination, err := h.service.ListProducts(c.UserContext(), q)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(envelope{Success: true, Data: items, Pagination: &pagination})
}

// HandleGetCategories lists the categories of active products.
func (h *ProductHandler) HandleGetCategories(c *fiber.Ctx) error {
	categories, err := h.service.Categories(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, "", categories)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	product, err := h.service.GetProductByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, "", product)
}

// HandleCreateProduct creates a product from a multipart form or a JSON
// body. Images can only be sent as multipart files.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	raw, files, err := readWriteRequest(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	in, err := services.ParseProductInput(raw)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	product, err := h.service.CreateProduct(c.UserContext(), middleware.UserID(c), in, files)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusCreated, "Product created successfully", product)
}

// HandleUpdateProduct applies a partial update.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	raw, files, err := readWriteRequest(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	in, err := services.ParseProductInput(raw)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	product, err := h.service.UpdateProduct(c.UserContext(), middleware.UserID(c), c.Params("id"), in, files)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, "Product updated successfully", product)
}

// HandleAttachImages adds uploaded images to a product.
func (h *ProductHandler) HandleAttachImages(c *fiber.Ctx) error {
	_, files, err := readWriteRequest(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	product, err := h.service.AttachImages(c.UserContext(), middleware.UserID(c), c.Params("id"), files)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, "Images uploaded successfully", product)
}

// HandleRemoveImage detaches one image and deletes its file.
func (h *ProductHandler) HandleRemoveImage(c *fiber.Ctx) error {
	image := c.Params("image")
	if image == "" {
		image = c.Query("image")
	}
	if image == "" {
		return respondError(c, h.logger, fiber.NewError(fiber.StatusBadRequest, "image is required"))
	}

	product, err := h.service.RemoveImage(c.UserContext(), middleware.UserID(c), c.Params("id"), image)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return respond(c, fiber.StatusOK, "Image removed successfully", product)
}

// HandleDeleteProduct deletes a product and its images.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	if err := h.service.DeleteProduct(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(envelope{Success: true, Message: "Product deleted successfully"})
}

// readWriteRequest decodes the fields and files of a create or update
// request. Multipart values stay strings; coercion happens in the service.
func readWriteRequest(c *fiber.Ctx) (map[string]any, services.ImageUploads, error) {
	var files services.ImageUploads
	raw := map[string]any{}

	contentType := strings.ToLower(string(c.Request().Header.ContentType()))
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return nil, files, fiber.NewError(fiber.StatusBadRequest, "Invalid multipart form")
		}
		for key, values := range form.Value {
			if len(values) == 1 {
				raw[key] = values[0]
			} else {
				raw[key] = values
			}
		}
		files.Main = uploads(form.File[FieldMainImage])
		files.Additional = uploads(form.File[FieldAdditionalImages])
	case len(c.Body()) > 0:
		if err := json.Unmarshal(c.Body(), &raw); err != nil {
			return nil, files, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	return raw, files, nil
}

func uploads(headers []*multipart.FileHeader) []assets.Upload {
	out := make([]assets.Upload, 0, len(headers))
	for _, fh := range headers {
		out = append(out, assets.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return out
}
