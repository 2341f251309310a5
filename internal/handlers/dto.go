package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"qrhub/internal/common"
	"qrhub/internal/models"
)

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// SignInRequest represents the request body for sign-in.
type SignInRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// GenerateRequest represents the request body for QR generation.
type GenerateRequest struct {
	Content string `json:"content" validate:"required"`
}

type recordResponse struct {
	ID      uint   `json:"id"`
	Content string `json:"content"`
}

func generatedResponse(records []models.GeneratedRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{ID: r.ID, Content: r.Content})
	}
	return out
}

func readResponse(records []models.ReadRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{ID: r.ID, Content: r.Content})
	}
	return out
}

// strictUnmarshal is the app's JSON decoder: unknown fields and trailing
// data are errors.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// bind parses the JSON body into req and validates it.
func bind(c *fiber.Ctx, validate *validator.Validate, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fmt.Errorf("%w: body: %v", common.ErrValidation, err)
	}
	if err := validate.Struct(req); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			return fmt.Errorf("%w: field %s failed on %s", common.ErrValidation, fields[0].Field(), fields[0].Tag())
		}
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}
