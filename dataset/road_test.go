package dataset_test

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/dataset"
)

const (
	roadW = 8
	roadH = 4
)

var (
	red     = color.NRGBA{R: 255, A: 255}
	magenta = color.NRGBA{R: 255, B: 255, A: 255}
)

// writeRoad creates a KITTI road layout with n samples. Labels are
// background on the left half and road on the right half.
func writeRoad(t *testing.T, n int) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "image_2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gt_image_2"), 0o755))

	gt := imaging.New(roadW, roadH, red)
	for y := 0; y < roadH; y++ {
		for x := roadW / 2; x < roadW; x++ {
			gt.Set(x, y, magenta)
		}
	}
	for i := 0; i < n; i++ {
		img := imaging.New(roadW, roadH, color.NRGBA{G: uint8(40 * i), A: 255})
		name := []string{"um_000000.png", "um_000001.png", "umm_000000.png", "uu_000000.png"}[i]
		require.NoError(t, imaging.Save(img, filepath.Join(dir, "image_2", name)))
		prefix := name[:len(name)-len("_000000.png")]
		gtName := prefix + "_road" + name[len(prefix):]
		require.NoError(t, imaging.Save(gt, filepath.Join(dir, "gt_image_2", gtName)))
	}
	return dir
}

func roadConfig() dataset.RoadConfig {
	cfg := dataset.DefaultRoadConfig()
	cfg.Height, cfg.Width = roadH, roadW
	return cfg
}

func sum(x *ts.Tensor) float64 {
	var s float64
	for _, v := range x.Float64Values() {
		s += v
	}
	return s
}

func TestRoadBatches(t *testing.T) {
	dir := writeRoad(t, 3)
	road, err := dataset.NewRoad(dir, roadConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, road.Len())

	for epoch := 0; epoch < 2; epoch++ {
		it, err := road.Batches(2)
		require.NoError(t, err)

		var sizes []int64
		for it.HasNext() {
			b, err := it.Next()
			require.NoError(t, err)
			n := b.Images.MustSize()[0]
			sizes = append(sizes, n)

			assert.Equal(t, []int64{n, roadH, roadW, 3}, b.Images.MustSize())
			assert.Equal(t, []int64{n, roadH, roadW, 2}, b.Labels.MustSize())

			// one-hot: every pixel sums to 1, half the pixels are road
			pixels := float64(n * roadH * roadW)
			assert.InDelta(t, pixels, sum(b.Labels), 1e-6)
			var fg float64
			for i, v := range b.Labels.Float64Values() {
				if i%2 == 1 {
					fg += v
				}
			}
			assert.InDelta(t, pixels/2, fg, 1e-6)

			for _, v := range b.Images.Float64Values() {
				assert.True(t, v >= 0 && v <= 1)
			}
			b.Release()
		}
		assert.Equal(t, []int64{2, 1}, sizes)

		_, err = it.Next()
		assert.Error(t, err)
	}
}

func TestRoadLabelLayout(t *testing.T) {
	dir := writeRoad(t, 1)
	road, err := dataset.NewRoad(dir, roadConfig())
	require.NoError(t, err)
	it, err := road.Batches(1)
	require.NoError(t, err)
	b, err := it.Next()
	require.NoError(t, err)
	defer b.Release()

	vals := b.Labels.Float64Values()
	for y := 0; y < roadH; y++ {
		for x := 0; x < roadW; x++ {
			i := (y*roadW + x) * 2
			want := []float64{1, 0}
			if x >= roadW/2 {
				want = []float64{0, 1}
			}
			assert.Equal(t, want, vals[i:i+2], "pixel (%d,%d)", x, y)
		}
	}
}

func TestRoadResizes(t *testing.T) {
	dir := writeRoad(t, 2)
	cfg := roadConfig()
	cfg.Height, cfg.Width = 2*roadH, 2*roadW
	road, err := dataset.NewRoad(dir, cfg)
	require.NoError(t, err)

	it, err := road.Batches(5)
	require.NoError(t, err)
	b, err := it.Next()
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, []int64{2, 2 * roadH, 2 * roadW, 3}, b.Images.MustSize())
	assert.Equal(t, []int64{2, 2 * roadH, 2 * roadW, 2}, b.Labels.MustSize())
	assert.False(t, it.HasNext())
}

func TestRoadErrors(t *testing.T) {
	_, err := dataset.NewRoad(filepath.Join(t.TempDir(), "missing"), roadConfig())
	assert.Error(t, err)

	_, err = dataset.NewRoad(t.TempDir(), roadConfig())
	assert.Error(t, err, "no images")

	dir := writeRoad(t, 2)
	require.NoError(t, os.Remove(filepath.Join(dir, "gt_image_2", "um_road_000001.png")))
	_, err = dataset.NewRoad(dir, roadConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "um_000001.png")

	road, err := dataset.NewRoad(writeRoad(t, 1), roadConfig())
	require.NoError(t, err)
	_, err = road.Batches(0)
	assert.Error(t, err)
}

func TestFitNearestKeepsColours(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, magenta)

	out := dataset.Fit(src, 7, 3, true)
	assert.Equal(t, image.Rect(0, 0, 7, 3), out.Bounds())
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA)
			assert.True(t, c == red || c == magenta, "unexpected colour %v", c)
		}
	}

	same := dataset.Fit(src, 2, 1, false)
	assert.Equal(t, image.Image(src), same)
}

func TestMemory(t *testing.T) {
	x := ts.MustOfSlice([]float32{1, 2})
	defer x.MustDrop()
	m := dataset.NewMemory(dataset.Batch{Images: x, Labels: x}, dataset.Batch{Images: x, Labels: x})
	assert.Equal(t, 2, m.Len())

	_, err := m.Batches(0)
	assert.Error(t, err)

	for epoch := 0; epoch < 2; epoch++ {
		it, err := m.Batches(1)
		require.NoError(t, err)
		var n int
		for it.HasNext() {
			b, err := it.Next()
			require.NoError(t, err)
			assert.Same(t, x, b.Images)
			b.Release()
			n++
		}
		assert.Equal(t, 2, n)
	}
	// released batches did not drop the shared tensor
	assert.Equal(t, []float64{1, 2}, x.Float64Values())
}

func TestImageTensor(t *testing.T) {
	a := imaging.New(3, 2, color.NRGBA{R: 255, A: 255})
	b := imaging.New(3, 2, color.NRGBA{B: 255, A: 255})
	x, err := dataset.ImageTensor(a, b)
	require.NoError(t, err)
	defer x.MustDrop()
	assert.Equal(t, []int64{2, 2, 3, 3}, x.MustSize())
	vals := x.Float64Values()
	assert.Equal(t, []float64{1, 0, 0}, vals[:3])
	assert.Equal(t, []float64{0, 0, 1}, vals[18:21])

	_, err = dataset.ImageTensor(a, imaging.New(2, 2, color.NRGBA{}))
	assert.Error(t, err)
	_, err = dataset.ImageTensor()
	assert.Error(t, err)
}
