package projectimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Size is one generated rendition. Crop fills the box; otherwise the image is fit inside it.
type Size struct {
	Name    string
	Width   int
	Height  int
	Crop    bool
	Quality int
}

// Sizes are rendered for every upload. The optimized rendition is the image's file_path.
var Sizes = []Size{
	{Name: "thumbnail", Width: 150, Height: 150, Crop: true, Quality: 80},
	{Name: "small", Width: 300, Height: 300, Quality: 85},
	{Name: "medium", Width: 600, Height: 600, Quality: 85},
	{Name: "large", Width: 1200, Height: 1200, Quality: 85},
	{Name: "optimized", Width: 1920, Height: 1920, Quality: 90},
}

const (
	MinDimension = 100
	MaxDimension = 10000
)

var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var ErrInvalidImage = errors.New("Invalid image file")

// Rendered is an encoded JPEG rendition.
type Rendered struct {
	Size   Size
	Data   []byte
	Width  int
	Height int
}

// Inspect reads the header only and enforces the dimension bounds.
func Inspect(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return cfg, "", ErrInvalidImage
	}
	switch {
	case cfg.Width < MinDimension || cfg.Height < MinDimension:
		return cfg, format, fmt.Errorf("Image dimensions too small (minimum %dx%d)", MinDimension, MinDimension)
	case cfg.Width > MaxDimension || cfg.Height > MaxDimension:
		return cfg, format, fmt.Errorf("Image dimensions too large (maximum %dx%d)", MaxDimension, MaxDimension)
	}
	return cfg, format, nil
}

// Render decodes data and produces every rendition in Sizes.
func Render(data []byte) ([]Rendered, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrInvalidImage
	}
	out := make([]Rendered, 0, len(Sizes))
	for _, s := range Sizes {
		img := resize(src, s)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.Quality)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.Name, err)
		}
		b := img.Bounds()
		out = append(out, Rendered{Size: s, Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()})
	}
	return out, nil
}

func resize(src image.Image, s Size) image.Image {
	if s.Crop {
		return imaging.Fill(src, s.Width, s.Height, imaging.Center, imaging.Lanczos)
	}
	b := src.Bounds()
	if b.Dx() <= s.Width && b.Dy() <= s.Height {
		return src
	}
	return imaging.Fit(src, s.Width, s.Height, imaging.Lanczos)
}

// readAll reads at most limit bytes and fails if r holds more.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("File too large (maximum %d bytes)", limit)
	}
	return data, nil
}
