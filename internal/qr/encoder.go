// Package qr converts text content to QR symbol images and back.
//
// Symbols always use error-correction level M. The encoder picks the smallest
// version that fits, up to a configured maximum, and rasterizes each module to
// a fixed square pixel block surrounded by a quiet zone. Content is carried as
// UTF-8 in byte mode (with an ECI header) so that any Go string round-trips.
package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode/decoder"
	"github.com/makiuchi-d/gozxing/qrcode/encoder"

	"qrhub/internal/common"
)

const (
	charset = "UTF-8"

	// Byte-mode header overhead that sits in front of the data bits:
	// ECI mode indicator (4) + ECI designator for UTF-8 (8) + mode indicator (4).
	eciHeaderBits  = 4 + 8
	modeHeaderBits = 4
)

var ecLevel = decoder.ErrorCorrectionLevel_M

// EncoderOptions fixes the symbol parameters.
type EncoderOptions struct {
	MaxVersion int
	ModuleSize int
	QuietZone  int
}

// Encoder renders content into PNG-encoded QR symbols.
type Encoder struct {
	opts     EncoderOptions
	capacity int
	hints    map[gozxing.EncodeHintType]interface{}
}

// NewEncoder validates opts and precomputes the byte capacity of the
// largest allowed version.
func NewEncoder(opts EncoderOptions) (*Encoder, error) {
	if opts.MaxVersion < 1 || opts.MaxVersion > 40 {
		return nil, fmt.Errorf("max version must be in [1, 40], got %d", opts.MaxVersion)
	}
	if opts.ModuleSize < 1 {
		return nil, fmt.Errorf("module size must be positive, got %d", opts.ModuleSize)
	}
	if opts.QuietZone < 0 {
		return nil, fmt.Errorf("quiet zone must not be negative, got %d", opts.QuietZone)
	}
	capacity, err := ByteCapacity(opts.MaxVersion)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		opts:     opts,
		capacity: capacity,
		hints: map[gozxing.EncodeHintType]interface{}{
			gozxing.EncodeHintType_CHARACTER_SET: charset,
		},
	}, nil
}

// ByteCapacity returns how many UTF-8 content bytes fit a symbol of the given
// version at level M in byte mode.
func ByteCapacity(version int) (int, error) {
	v, err := decoder.Version_GetVersionForNumber(version)
	if err != nil {
		return 0, fmt.Errorf("qr version %d: %w", version, err)
	}
	dataCodewords := v.GetTotalCodewords() - v.GetECBlocksForLevel(ecLevel).GetTotalECCodewords()
	bits := dataCodewords*8 - eciHeaderBits - modeHeaderBits - decoder.Mode_BYTE.GetCharacterCountBits(v)
	return bits / 8, nil
}

// Capacity is the maximum content length in bytes accepted by Encode.
func (e *Encoder) Capacity() int {
	return e.capacity
}

// Variant identifies the rendering parameters; two encoders with the same
// variant produce identical images for identical content.
func (e *Encoder) Variant() string {
	return fmt.Sprintf("M-v%d-m%d-q%d", e.opts.MaxVersion, e.opts.ModuleSize, e.opts.QuietZone)
}

// Encode returns a grayscale PNG of the QR symbol for content.
func (e *Encoder) Encode(content string) ([]byte, error) {
	img, err := e.Render(content)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Render lays out the symbol for content and rasterizes it without PNG
// encoding.
func (e *Encoder) Render(content string) (*image.Gray, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", common.ErrValidation)
	}
	if len(content) > e.capacity {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", common.ErrCapacityExceeded, len(content), e.capacity)
	}

	code, werr := encoder.Encoder_encode(content, ecLevel, e.hints)
	if werr != nil {
		// Beyond version 40 the library itself refuses the data.
		return nil, fmt.Errorf("%w: %v", common.ErrCapacityExceeded, werr)
	}
	if v := code.GetVersion().GetVersionNumber(); v > e.opts.MaxVersion {
		return nil, fmt.Errorf("%w: needs version %d, limit is %d", common.ErrCapacityExceeded, v, e.opts.MaxVersion)
	}

	return e.rasterize(code.GetMatrix()), nil
}

func (e *Encoder) rasterize(matrix *encoder.ByteMatrix) *image.Gray {
	modules := matrix.GetWidth()
	size := (modules + 2*e.opts.QuietZone) * e.opts.ModuleSize
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	for my := 0; my < matrix.GetHeight(); my++ {
		for mx := 0; mx < modules; mx++ {
			if matrix.Get(mx, my) != 1 {
				continue
			}
			x0 := (mx + e.opts.QuietZone) * e.opts.ModuleSize
			y0 := (my + e.opts.QuietZone) * e.opts.ModuleSize
			for y := y0; y < y0+e.opts.ModuleSize; y++ {
				for x := x0; x < x0+e.opts.ModuleSize; x++ {
					img.SetGray(x, y, color.Gray{Y: 0})
				}
			}
		}
	}
	return img
}
