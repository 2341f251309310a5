package handlers

import (
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"qrhub/internal/common"
	"qrhub/internal/middleware"
	"qrhub/internal/services"
)

// QRHandler handles HTTP requests for generating, reading and listing QR
// content.
type QRHandler struct {
	qrService      *services.QRService
	tokens         middleware.TokenValidator
	validate       *validator.Validate
	uploadMaxBytes int64
}

// NewQRHandler creates a new QRHandler.
func NewQRHandler(qrService *services.QRService, tokens middleware.TokenValidator, validate *validator.Validate, uploadMaxBytes int) *QRHandler {
	return &QRHandler{
		qrService:      qrService,
		tokens:         tokens,
		validate:       validate,
		uploadMaxBytes: int64(uploadMaxBytes),
	}
}

// RegisterRoutes registers the QR and per-user listing routes.
func (h *QRHandler) RegisterRoutes(router fiber.Router) {
	qrRoutes := router.Group("/qr")
	qrRoutes.Post("/generate", middleware.AuthRequired(h.tokens), h.HandleGenerate)
	qrRoutes.Post("/read", middleware.OptionalAuth(h.tokens), h.HandleRead)

	userRoutes := router.Group("/user", middleware.AuthRequired(h.tokens))
	userRoutes.Get("/qr_contents", h.HandleListGenerated)
	userRoutes.Get("/read_contents", h.HandleListRead)
}

// HandleGenerate responds with the PNG symbol for the requested content.
func (h *QRHandler) HandleGenerate(c *fiber.Ctx) error {
	var req GenerateRequest
	if err := bind(c, h.validate, &req); err != nil {
		return err
	}

	png, err := h.qrService.Generate(c.UserContext(), middleware.Username(c), req.Content)
	if err != nil {
		return err
	}
	c.Type("png")
	return c.Status(fiber.StatusOK).Send(png)
}

// HandleRead decodes the image uploaded in the multipart field "file".
func (h *QRHandler) HandleRead(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: multipart field \"file\" is required", common.ErrValidation)
	}
	if fh.Size > h.uploadMaxBytes {
		return fmt.Errorf("%w: upload of %d bytes exceeds %d", common.ErrValidation, fh.Size, h.uploadMaxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.uploadMaxBytes))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	content, err := h.qrService.Read(c.UserContext(), data, middleware.Username(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"content": content,
	})
}

// HandleListGenerated lists the content the caller has generated.
func (h *QRHandler) HandleListGenerated(c *fiber.Ctx) error {
	records, err := h.qrService.ListGenerated(c.UserContext(), middleware.Username(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"records": generatedResponse(records),
	})
}

// HandleListRead lists the content the caller has read while signed in.
func (h *QRHandler) HandleListRead(c *fiber.Ctx) error {
	records, err := h.qrService.ListRead(c.UserContext(), middleware.Username(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"records": readResponse(records),
	})
}
