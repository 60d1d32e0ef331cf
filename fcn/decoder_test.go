package fcn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/backbone"
	"github.com/sugarme/fcn/fcn"
)

func miniConfig(nclasses int64) fcn.DecoderConfig {
	return fcn.DecoderConfig{
		Layer3:     backbone.FeatureEndpoint{Name: backbone.Layer3Name, Stride: 8, Channels: 8},
		Layer4:     backbone.FeatureEndpoint{Name: backbone.Layer4Name, Stride: 16, Channels: 16},
		Layer7:     backbone.FeatureEndpoint{Name: backbone.Layer7Name, Stride: 32, Channels: 12},
		NumClasses: nclasses,
		RegRate:    1e-3,
	}
}

func features(n, h, w int64, cfg fcn.DecoderConfig) backbone.Features {
	feat := func(e backbone.FeatureEndpoint) *ts.Tensor {
		return ts.MustRand([]int64{n, e.Channels, h / e.Stride, w / e.Stride}, gotch.Float, gotch.CPU)
	}
	return backbone.Features{Layer3: feat(cfg.Layer3), Layer4: feat(cfg.Layer4), Layer7: feat(cfg.Layer7)}
}

func TestUpsampleFactors(t *testing.T) {
	total := int64(1)
	for _, f := range fcn.UpsampleFactors() {
		total *= f
	}
	assert.Equal(t, int64(32), total)
	assert.Equal(t, [3]int64{2, 2, 8}, fcn.UpsampleFactors())
}

func TestDecoderOutputShape(t *testing.T) {
	cfg := miniConfig(3)
	vs := nn.NewVarStore(gotch.CPU)
	dec, err := fcn.NewDecoder(vs.Root(), cfg)
	require.NoError(t, err)

	for _, hw := range [][2]int64{{32, 32}, {64, 96}, {160, 576}} {
		f := features(2, hw[0], hw[1], cfg)
		out := dec.ForwardFeatures(f)
		assert.Equal(t, []int64{2, 3, hw[0], hw[1]}, out.MustSize(), "%v", hw)
		out.MustDrop()
		f.Drop()
	}
}

func TestDecoderRejectsStrides(t *testing.T) {
	cfg := miniConfig(2)
	cfg.Layer4.Stride = 8
	vs := nn.NewVarStore(gotch.CPU)
	_, err := fcn.NewDecoder(vs.Root(), cfg)
	assert.Error(t, err)

	cfg = miniConfig(0)
	_, err = fcn.NewDecoder(vs.Root(), cfg)
	assert.Error(t, err)
}

func TestDecoderSkipMismatchPanics(t *testing.T) {
	cfg := miniConfig(2)
	vs := nn.NewVarStore(gotch.CPU)
	dec, err := fcn.NewDecoder(vs.Root(), cfg)
	require.NoError(t, err)

	f := features(1, 64, 64, cfg)
	defer func() { f.Drop() }()
	f.Layer4.MustDrop()
	f.Layer4 = ts.MustRand([]int64{1, 16, 3, 3}, gotch.Float, gotch.CPU)

	assert.Panics(t, func() { dec.ForwardFeatures(f) })
}

func TestFCN8RecoversInputResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, backbone.Export(nn.NewVarStore(gotch.CPU), dir, "vgg-mini"))

	vs := nn.NewVarStore(gotch.CPU)
	bb, err := backbone.Load(vs, dir, "vgg-mini")
	require.NoError(t, err)
	net, err := fcn.New(vs, bb, fcn.DefaultDecoderConfig(bb, 2))
	require.NoError(t, err)

	for _, shape := range [][]int64{{1, 32, 32, 3}, {3, 64, 96, 3}} {
		x := ts.MustRand(shape, gotch.Float, gotch.CPU)
		out := net.ForwardT(x, 0.8, true)
		assert.Equal(t, []int64{shape[0], shape[1], shape[2], 2}, out.MustSize())
		out.MustDrop()

		pred := net.Predict(x)
		assert.Equal(t, []int64{shape[0], shape[1], shape[2], 2}, pred.MustSize())
		pred.MustDrop()
		x.MustDrop()
	}

	bad := ts.MustRand([]int64{1, 30, 32, 3}, gotch.Float, gotch.CPU)
	defer bad.MustDrop()
	assert.Panics(t, func() { net.Predict(bad) })

	assert.NoError(t, net.CheckInput([]int64{2, 64, 32, 3}))
	for _, size := range [][]int64{{1, 30, 32, 3}, {1, 32, 48, 3}, {1, 32, 32, 1}, {32, 32, 3}} {
		assert.Error(t, net.CheckInput(size), "%v", size)
	}
}
