package dataset

import (
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"
)

// RoadConfig configures the KITTI road batch source.
type RoadConfig struct {
	Height     int
	Width      int
	Background color.RGBA // label colour of class 0
	Seed       int64
}

// DefaultRoadConfig returns the KITTI road defaults: 160x576 images, red
// background.
func DefaultRoadConfig() RoadConfig {
	return RoadConfig{
		Height:     160,
		Width:      576,
		Background: color.RGBA{R: 255, G: 0, B: 0, A: 255},
		Seed:       1,
	}
}

// RoadClasses is the number of label classes a Road source produces:
// background and road.
const RoadClasses = 2

var laneRoadRe = regexp.MustCompile(`_(lane|road)_`)

// Road reads a KITTI road style directory:
//
//	<dir>/image_2/<name>.png
//	<dir>/gt_image_2/<prefix>_road_<suffix>.png
//
// A label belongs to the image named after removing `_road_` (or `_lane_`).
type Road struct {
	images []string
	labels map[string]string
	cfg    RoadConfig
	rng    *rand.Rand
}

// NewRoad scans dir and pairs every image with its label.
func NewRoad(dir string, cfg RoadConfig) (*Road, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, errors.Errorf("invalid image shape %dx%d", cfg.Height, cfg.Width)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "training data directory")
	}

	images, err := filepath.Glob(filepath.Join(dir, "image_2", "*.png"))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.Errorf("no training images under %s", filepath.Join(dir, "image_2"))
	}
	sort.Strings(images)

	gts, err := filepath.Glob(filepath.Join(dir, "gt_image_2", "*_road_*.png"))
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(gts))
	for _, gt := range gts {
		labels[laneRoadRe.ReplaceAllString(filepath.Base(gt), "_")] = gt
	}
	for _, img := range images {
		if _, ok := labels[filepath.Base(img)]; !ok {
			return nil, errors.Errorf("no label for image %s", img)
		}
	}
	klog.V(1).Infof("road dataset %s: %d images", dir, len(images))

	return &Road{
		images: images,
		labels: labels,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Len returns the number of samples.
func (r *Road) Len() int {
	return len(r.images)
}

// Batches implements Source. Every call reshuffles the samples.
func (r *Road) Batches(batchSize int) (Iterator, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	order := make([]string, len(r.images))
	copy(order, r.images)
	r.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return &roadIter{road: r, order: order, batchSize: batchSize}, nil
}

type roadIter struct {
	road      *Road
	order     []string
	batchSize int
	pos       int
}

func (it *roadIter) HasNext() bool {
	return it.pos < len(it.order)
}

// Next loads the next batch. The last batch of an epoch may be short.
func (it *roadIter) Next() (*Batch, error) {
	if !it.HasNext() {
		return nil, errors.New("iterator exhausted")
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	paths := it.order[it.pos:end]
	it.pos = end

	cfg := it.road.cfg
	n := len(paths)
	hw := cfg.Height * cfg.Width
	images := make([]float32, 0, n*hw*3)
	labels := make([]float32, 0, n*hw*RoadClasses)
	for _, p := range paths {
		img, err := ReadImage(p)
		if err != nil {
			return nil, err
		}
		gt, err := ReadImage(it.road.labels[filepath.Base(p)])
		if err != nil {
			return nil, err
		}
		images = pixels(images, Fit(img, cfg.Width, cfg.Height, false))
		labels = oneHot(labels, Fit(gt, cfg.Width, cfg.Height, true), cfg.Background)
	}

	return newBatch(images, labels, n, cfg.Height, cfg.Width)
}

func newBatch(images, labels []float32, n, h, w int) (*Batch, error) {
	imgTs, err := ts.NewTensorFromData(images, []int64{int64(n), int64(h), int64(w), 3})
	if err != nil {
		return nil, err
	}
	lblTs, err := ts.NewTensorFromData(labels, []int64{int64(n), int64(h), int64(w), int64(len(labels) / (n * h * w))})
	if err != nil {
		imgTs.MustDrop()
		return nil, err
	}
	return &Batch{Images: imgTs, Labels: lblTs, owned: true}, nil
}
