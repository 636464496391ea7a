package projectimage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInspectBounds(t *testing.T) {
	cfg, format, err := Inspect(pngOf(t, 200, 120))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 200, cfg.Width)

	_, _, err = Inspect(pngOf(t, 50, 50))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")

	_, _, err = Inspect([]byte("not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestRenderProducesEverySize(t *testing.T) {
	out, err := Render(pngOf(t, 400, 200))
	require.NoError(t, err)
	require.Len(t, out, len(Sizes))

	byName := map[string]Rendered{}
	for _, r := range out {
		byName[r.Size.Name] = r
		assert.NotEmpty(t, r.Data)
	}
	assert.Equal(t, 150, byName["thumbnail"].Width)
	assert.Equal(t, 150, byName["thumbnail"].Height)
	assert.Equal(t, 300, byName["small"].Width)
	assert.Equal(t, 150, byName["small"].Height)
	// never upscaled
	assert.Equal(t, 400, byName["optimized"].Width)
	assert.Equal(t, 200, byName["optimized"].Height)

	_, format, err := image.DecodeConfig(bytes.NewReader(byName["medium"].Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestReadAllLimit(t *testing.T) {
	b, err := readAll(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	_, err = readAll(strings.NewReader("123456"), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "File too large")
}
