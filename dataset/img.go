package dataset

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
)

// ReadImage reads an image file. PNG, JPEG, GIF and BMP go through imaging,
// TIFF through the chai2010 decoder which also handles BigTIFF.
func ReadImage(filename string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", filename)
		}
		return img, nil
	default:
		img, err := imaging.Open(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", filename)
		}
		return img, nil
	}
}

// Fit resizes img to width x height. Labels must use nearest neighbour so no
// colour that is not in the source appears at class boundaries.
func Fit(img image.Image, width, height int, nearest bool) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	interp := resize.Bilinear
	if nearest {
		interp = resize.NearestNeighbor
	}
	return resize.Resize(uint(width), uint(height), img, interp)
}

// pixels appends the HWC RGB values of img scaled to [0, 1].
func pixels(dst []float32, img image.Image) []float32 {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst = append(dst, float32(r>>8)/255, float32(g>>8)/255, float32(bl>>8)/255)
		}
	}
	return dst
}

// oneHot appends the HWC two-class one-hot encoding of a label image: pixels
// equal to background are class 0, every other pixel is class 1.
func oneHot(dst []float32, img image.Image, background color.RGBA) []float32 {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if uint8(r>>8) == background.R && uint8(g>>8) == background.G && uint8(bl>>8) == background.B {
				dst = append(dst, 1, 0)
			} else {
				dst = append(dst, 0, 1)
			}
		}
	}
	return dst
}

// ImageTensor converts images of identical size into an NHWC float tensor.
func ImageTensor(imgs ...image.Image) (*ts.Tensor, error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images")
	}
	b := imgs[0].Bounds()
	data := make([]float32, 0, len(imgs)*b.Dx()*b.Dy()*3)
	for _, img := range imgs {
		if img.Bounds().Dx() != b.Dx() || img.Bounds().Dy() != b.Dy() {
			return nil, errors.Errorf("image size %v differs from %v", img.Bounds().Size(), b.Size())
		}
		data = pixels(data, img)
	}
	return ts.NewTensorFromData(data, []int64{int64(len(imgs)), int64(b.Dy()), int64(b.Dx()), 3})
}
