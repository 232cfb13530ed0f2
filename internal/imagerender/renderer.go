package imagerender

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// PageOutOfRangeError is returned for a page number the document does not have.
type PageOutOfRangeError struct {
	Page  int
	Total int
}

func (e *PageOutOfRangeError) Error() string {
	return fmt.Sprintf("page %d out of range (document has %d pages)", e.Page, e.Total)
}

// Options tune preview rendering. Zero values fall back to defaults.
type Options struct {
	DPI     int
	Quality int
	Color   ColorMode
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 72
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 80
	}
	if o.Color == "" {
		o.Color = ColorRGB
	}
	return o
}

// RenderPageToJPEG renders a 1-based PDF page as JPEG image (in-memory)
// Returns JPEG bytes, width, height, error
func RenderPageToJPEG(pdfPath string, pageNum int, opts Options) ([]byte, int, int, error) {
	opts = opts.withDefaults()

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if total := doc.NumPage(); pageNum < 1 || pageNum > total {
		return nil, 0, 0, &PageOutOfRangeError{Page: pageNum, Total: total}
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNum-1, float64(opts.DPI))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var finalImg image.Image = img
	if opts.Color == ColorGray {
		grayImg := image.NewGray(bounds)
		draw.Draw(grayImg, bounds, img, image.Point{}, draw.Src)
		finalImg = grayImg
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, finalImg, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", pageNum).
		Int("width", width).
		Int("height", height).
		Str("color", string(opts.Color)).
		Int("jpeg_size", buf.Len()).
		Int("dpi", opts.DPI).
		Msg("rendered page preview")

	return buf.Bytes(), width, height, nil
}
