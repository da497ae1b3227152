package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoBarcode is returned when no supported barcode can be decoded
var ErrNoBarcode = errors.New("no barcode found")

// ImageBarcodeReader decodes CODE128, EAN-13 and QR codes from receipt images
type ImageBarcodeReader struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewImageBarcodeReader creates a reader trying each supported symbology in turn
func NewImageBarcodeReader() *ImageBarcodeReader {
	return &ImageBarcodeReader{
		readers: []gozxing.Reader{
			oned.NewCode128Reader(),
			oned.NewEAN13Reader(),
			qrcode.NewQRCodeReader(),
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// ReadBarcode loads the image at imagePath and returns the first decoded payload
func (b *ImageBarcodeReader) ReadBarcode(ctx context.Context, imagePath string) (string, error) {
	img, err := LoadImage(imagePath)
	if err != nil {
		return "", err
	}
	return b.Decode(ctx, img)
}

// Decode returns the payload of the first barcode any reader recognizes in img
func (b *ImageBarcodeReader) Decode(ctx context.Context, img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("preparing bitmap: %w", err)
	}

	for _, r := range b.readers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := r.Decode(bmp, b.hints)
		if err != nil {
			continue
		}
		if text := result.GetText(); text != "" {
			return text, nil
		}
	}
	return "", ErrNoBarcode
}

// RenderCode128 draws payload as a CODE128 barcode of the given size
func RenderCode128(payload string, width, height int) (image.Image, error) {
	if payload == "" {
		return nil, ErrNoBarcode
	}
	matrix, err := oned.NewCode128Writer().Encode(payload, gozxing.BarcodeFormat_CODE_128, width, height, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding CODE128: %w", err)
	}
	return matrix, nil
}
