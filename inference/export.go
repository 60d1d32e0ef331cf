// Package inference writes segmentation samples of a trained model: test
// images with the predicted foreground painted over them.
package inference

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
	"k8s.io/klog/v2"

	"github.com/sugarme/fcn/dataset"
)

// Predictor maps an NHWC image batch to NHWC class logits.
type Predictor interface {
	Predict(images *ts.Tensor) *ts.Tensor
}

// InputChecker is implemented by predictors that only accept some input
// shapes. SaveSamples checks every batch before predicting.
type InputChecker interface {
	CheckInput(size []int64) error
}

// Config configures sample export.
type Config struct {
	Height    int
	Width     int
	Class     int        // class painted over the image
	Threshold float64    // minimum softmax probability of Class
	Color     color.RGBA // overlay colour, its alpha is the overlay opacity
}

// DefaultConfig paints class 1 pixels with probability above 0.5 in
// half-transparent green.
func DefaultConfig() Config {
	return Config{
		Height:    160,
		Width:     576,
		Class:     1,
		Threshold: 0.5,
		Color:     color.RGBA{R: 0, G: 255, B: 0, A: 127},
	}
}

// SaveSamples runs every `<testDir>/image_2/*.png` through m and writes the
// overlays into a new `<runsDir>/<unix time>` directory, which it returns.
func SaveSamples(runsDir, testDir string, m Predictor, cfg Config) (string, error) {
	paths, err := filepath.Glob(filepath.Join(testDir, "image_2", "*.png"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.Errorf("no test images under %s", filepath.Join(testDir, "image_2"))
	}
	sort.Strings(paths)

	outDir := filepath.Join(runsDir, strconv.FormatInt(time.Now().Unix(), 10))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	klog.Infof("saving %d inference samples to %s", len(paths), outDir)

	for _, p := range paths {
		img, err := dataset.ReadImage(p)
		if err != nil {
			return outDir, err
		}
		img = dataset.Fit(img, cfg.Width, cfg.Height, false)

		probs, err := classProbs(m, img, cfg.Class)
		if err != nil {
			return outDir, errors.Wrapf(err, "predict %s", p)
		}
		out := Overlay(img, probs, cfg.Threshold, cfg.Color)
		if err := imaging.Save(out, filepath.Join(outDir, filepath.Base(p))); err != nil {
			return outDir, err
		}
	}

	return outDir, nil
}

// classProbs returns the row-major HxW softmax probabilities of class.
func classProbs(m Predictor, img image.Image, class int) ([]float64, error) {
	x, err := dataset.ImageTensor(img)
	if err != nil {
		return nil, err
	}
	defer x.MustDrop()

	if c, ok := m.(InputChecker); ok {
		if err := c.CheckInput(x.MustSize()); err != nil {
			return nil, err
		}
	}

	// grad mode is restored even if Predict panics
	prev := ts.MustGradSetEnabled(false)
	defer ts.MustGradSetEnabled(prev)

	logits := m.Predict(x)
	size := logits.MustSize()
	nclasses := int(size[len(size)-1])
	sm := logits.MustSoftmax(-1, gotch.Float, true).MustContiguous(true)
	vals := sm.Float64Values()
	sm.MustDrop()
	if class < 0 || class >= nclasses {
		return nil, errors.Errorf("class %d out of range [0, %d)", class, nclasses)
	}

	probs := make([]float64, len(vals)/nclasses)
	for i := range probs {
		probs[i] = vals[i*nclasses+class]
	}
	return probs, nil
}

// Overlay paints c over every pixel of img whose probability exceeds
// threshold. probs is row-major over img's bounds.
func Overlay(img image.Image, probs []float64, threshold float64, c color.RGBA) *image.RGBA {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	out := image.NewRGBA(rect)
	draw.Draw(out, rect, img, b.Min, draw.Src)

	mask := image.NewAlpha(rect)
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			if probs[y*rect.Dx()+x] > threshold {
				mask.SetAlpha(x, y, color.Alpha{A: c.A})
			}
		}
	}
	solid := image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
	draw.DrawMask(out, rect, solid, image.Point{}, mask, image.Point{}, draw.Over)

	return out
}
