package encoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/encoder"
)

func TestMiniVGGFeatureShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.New(vs.Root(), "vgg-mini")
	require.NoError(t, err)

	x := ts.MustRand([]int64{2, 3, 64, 32}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	feats := enc.ForwardAll(x, 0.8, true)
	require.Len(t, feats, 3)
	want := [][]int64{
		{2, 8, 8, 4},  // stride 8
		{2, 16, 4, 2}, // stride 16
		{2, 16, 2, 1}, // stride 32
	}
	for i, f := range feats {
		assert.Equal(t, want[i], f.MustSize(), "feature %d", i)
		f.MustDrop()
	}
}

func TestResNetFeatureShapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.New(vs.Root(), "resnet18")
	require.NoError(t, err)

	x := ts.MustRand([]int64{1, 3, 64, 64}, gotch.Float, gotch.CPU)
	defer x.MustDrop()

	feats := enc.ForwardAll(x, 1.0, false)
	require.Len(t, feats, 3)
	for i, c := range enc.Channels() {
		hw := 64 / encoder.Strides[i]
		assert.Equal(t, []int64{1, c, hw, hw}, feats[i].MustSize(), "feature %d", i)
		feats[i].MustDrop()
	}
}

func TestChannelsOf(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	for _, arch := range []string{"vgg-mini", "resnet18", "resnet34"} {
		enc, err := encoder.New(vs.Root().Sub(arch), arch)
		require.NoError(t, err)
		ch, err := encoder.ChannelsOf(arch)
		require.NoError(t, err)
		assert.Equal(t, enc.Channels(), ch, arch)
	}

	ch, err := encoder.ChannelsOf("vgg16")
	require.NoError(t, err)
	assert.Equal(t, [3]int64{256, 512, 4096}, ch)
}

func TestUnknownArchitecture(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	_, err := encoder.New(vs.Root(), "alexnet")
	assert.Error(t, err)
	_, err = encoder.ChannelsOf("alexnet")
	assert.Error(t, err)
}
