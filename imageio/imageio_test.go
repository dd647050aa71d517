package imageio

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func opaque(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(10 * x), G: uint8(20 * y), B: 7, A: 255})
		}
	}
	return img
}

func TestIsRGB(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "color.jpg"), opaque(8, 8))
	writeJPEG(t, filepath.Join(dir, "grey.jpg"), image.NewGray(image.Rect(0, 0, 8, 8)))
	writePNG(t, filepath.Join(dir, "color.png"), opaque(8, 8))
	writePNG(t, filepath.Join(dir, "grey.png"), image.NewGray(image.Rect(0, 0, 8, 8)))

	translucent := opaque(8, 8)
	translucent.Pix[3] = 10
	writePNG(t, filepath.Join(dir, "alpha.png"), translucent)

	for name, want := range map[string]bool{
		"color.jpg": true,
		"grey.jpg":  false,
		"color.png": true,
		"grey.png":  false,
		"alpha.png": false,
	} {
		ok, err := IsRGB(filepath.Join(dir, name))
		require.NoError(t, err, name)
		require.Equal(t, want, ok, name)
	}

	_, err := IsRGB(filepath.Join(dir, "missing.png"))
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.jpg"), []byte("not an image"), 0o644))
	_, err = IsRGB(filepath.Join(dir, "junk.jpg"))
	require.Error(t, err)
}

func TestResizeAndWrite(t *testing.T) {
	img := Resize(opaque(20, 10), 4, 6)
	require.Equal(t, 4, img.Bounds().Dx())
	require.Equal(t, 6, img.Bounds().Dy())

	same := Resize(opaque(3, 2), 3, 2)
	f := make([]float32, 3*2*3)
	WriteFloat(f, same)
	require.InDelta(t, 10.0/255, f[3], 1e-6)
	require.InDelta(t, 20.0/255, f[3*3+1], 1e-6)
	require.InDelta(t, 7.0/255, f[2], 1e-6)

	b := make([]uint8, 3*2*3)
	WriteUint8(b, same)
	require.Equal(t, uint8(20), b[3*3+1])
}

func TestFlipHorizontal(t *testing.T) {
	img := opaque(3, 1)
	FlipHorizontal(img)
	require.Equal(t, uint8(20), img.Pix[0])
	require.Equal(t, uint8(10), img.Pix[4])
	require.Equal(t, uint8(0), img.Pix[8])
}
