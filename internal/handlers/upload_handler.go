package handlers

import (
	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"katalog/internal/assets"
	"katalog/internal/storage"
)

// UploadHandler serves stored images under the URLs the asset manager
// hands out.
type UploadHandler struct {
	assets *assets.Manager
	logger *zap.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(manager *assets.Manager, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{assets: manager, logger: logger.Named("http")}
}

// RegisterRoutes registers GET /uploads/:key.
func (h *UploadHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/uploads/:key", h.HandleServeUpload)
}

// HandleServeUpload writes the stored bytes of one image.
func (h *UploadHandler) HandleServeUpload(c *fiber.Ctx) error {
	data, contentType, err := h.assets.Open(c.UserContext(), c.Params("key"))
	if errors.Is(err, assets.ErrUnknownImage) || errors.Is(err, storage.ErrNotExist) {
		return respondError(c, h.logger, fiber.NewError(fiber.StatusNotFound, "Image not found"))
	}
	if err != nil {
		return respondError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	// Keys are never reused, so the content behind a URL never changes.
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(data)
}
