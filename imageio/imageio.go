// Package imageio decodes, checks and preprocesses the images fed to the network.
package imageio

import "image"
import "image/color"
import _ "image/jpeg"
import _ "image/png"
import "io"
import "os"

import "github.com/pkg/errors"
import _ "golang.org/x/image/bmp"
import "golang.org/x/image/draw"
import _ "golang.org/x/image/tiff"
import _ "golang.org/x/image/webp"

// Open decodes the image file at path.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// Decode decodes an image from r.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	return img, err
}

// IsRGBModel reports whether a decoder colour model stores exactly three
// colour channels without alpha.
func IsRGBModel(m color.Model) bool {
	switch m {
	case color.YCbCrModel, color.RGBAModel, color.RGBA64Model:
		return true
	}
	return false
}

// IsRGB reads only the image header and reports whether the file is a
// three channel colour image. Greyscale, palette, CMYK and images with
// alpha are not.
func IsRGB(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return false, errors.Wrapf(err, "decode header %s", path)
	}
	return IsRGBModel(cfg.ColorModel), nil
}

// Resize scales img to exactly w×h with Catmull-Rom (bicubic) filtering.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FlipHorizontal mirrors img left to right in place.
func FlipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for l, r := 0, b.Dx()-1; l < r; l, r = l+1, r-1 {
			lp, rp := row[l*4:l*4+4], row[r*4:r*4+4]
			for c := 0; c < 4; c++ {
				lp[c], rp[c] = rp[c], lp[c]
			}
		}
	}
}

// WriteFloat stores the RGB channels of img into dst as HWC values scaled to [0, 1].
func WriteFloat(dst []float32, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[i] = float32(row[x*4]) / 255
			dst[i+1] = float32(row[x*4+1]) / 255
			dst[i+2] = float32(row[x*4+2]) / 255
			i += 3
		}
	}
}

// WriteUint8 stores the RGB channels of img into dst as HWC bytes.
func WriteUint8(dst []uint8, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[i] = row[x*4]
			dst[i+1] = row[x*4+1]
			dst[i+2] = row[x*4+2]
			i += 3
		}
	}
}
