package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered upload formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"qrhub/internal/common"
)

// DefaultMaxPixels bounds the decoded image area when no limit is configured.
const DefaultMaxPixels = 40_000_000

// Decoder extracts text from images containing a single QR symbol.
// It holds no mutable state and is safe for concurrent use.
type Decoder struct {
	maxPixels int
}

// NewDecoder returns a Decoder that refuses images larger than maxPixels.
// A non-positive maxPixels selects DefaultMaxPixels.
func NewDecoder(maxPixels int) *Decoder {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Decoder{maxPixels: maxPixels}
}

// Decode parses data as an image and returns the content of the QR symbol
// in it. Unparseable input is common.ErrValidation; an image without a
// readable symbol is common.ErrNotFound.
func (d *Decoder) Decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", common.ErrValidation)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: unsupported image: %v", common.ErrValidation, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > d.maxPixels {
		return "", fmt.Errorf("%w: %s image of %dx%d is out of bounds", common.ErrValidation, format, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: corrupt %s image: %v", common.ErrValidation, format, err)
	}
	return d.DecodeImage(img)
}

// DecodeImage runs the detection pipeline on an already decoded image:
// luminance conversion, binarization, finder pattern detection, grid
// sampling and Reed-Solomon correction.
func (d *Decoder) DecodeImage(img image.Image) (string, error) {
	luminance := gozxing.NewLuminanceSourceFromImage(img)
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(luminance))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER:    true,
		gozxing.DecodeHintType_CHARACTER_SET: charset,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bitmap, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrNotFound, describe(err))
	}
	return result.GetText(), nil
}

func describe(err error) string {
	var (
		notFound gozxing.NotFoundException
		checksum gozxing.ChecksumException
		format   gozxing.FormatException
	)
	switch {
	case errors.As(err, &notFound):
		return "no finder pattern triple located"
	case errors.As(err, &checksum):
		return "error correction failed"
	case errors.As(err, &format):
		return "malformed symbol"
	default:
		return err.Error()
	}
}
