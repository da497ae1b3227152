package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrImageLoad is returned when a captured image cannot be read or decoded
var ErrImageLoad = errors.New("image could not be loaded")

// binarizeThreshold splits luminance into dark (below) and light (at or above)
const binarizeThreshold = 128

// Preprocessor binarizes receipt photos for OCR
type Preprocessor struct{}

// NewPreprocessor creates a new Preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Process loads the image at path, binarizes it and encodes it as PNG
func (p *Preprocessor) Process(path string) ([]byte, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Binarize(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Binarize converts every pixel to the average of its color channels and applies a
// fixed global threshold. Alpha is kept as is.
func Binarize(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		avg := (int(c.R) + int(c.G) + int(c.B)) / 3
		v := uint8(255)
		if avg < binarizeThreshold {
			v = 0
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// LoadImage reads and decodes a captured receipt. JPEG, PNG and GIF photos are
// auto-oriented from EXIF, HEIC/HEIF is decoded natively and PDFs render their first page.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrImageLoad, path, err)
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageLoad, err)
	}
	return img, nil
}

func decodeImage(data []byte) (image.Image, error) {
	switch {
	case isPDFFormat(data):
		return pdfFirstPage(data)
	case isHEICFormat(data):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return img, nil
	}
}

// pdfFirstPage renders the first page of a PDF (most receipts are single page)
func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks the ftyp box for HEIC-related brands
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
