package scanning

import "context"

// Recognizer turns a preprocessed receipt image into raw text
type Recognizer interface {
	// Recognize runs OCR over PNG image data and returns the recognized text lines
	Recognize(ctx context.Context, imagePNG []byte) (string, error)
	// Close releases the recognizer and any engine it owns
	Close() error
}

// ImageProcessor prepares a captured receipt image for OCR
type ImageProcessor interface {
	// Process loads the image at path and returns it binarized and PNG encoded
	Process(path string) ([]byte, error)
}

// BarcodeReader reads the barcode printed on a captured receipt
type BarcodeReader interface {
	// ReadBarcode returns the payload of the first barcode found in the image at path
	ReadBarcode(ctx context.Context, imagePath string) (string, error)
}
