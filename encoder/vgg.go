package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/base"
)

// VGGConfig describes a VGG-style encoder: conv widths per stage and the
// width of the convolutionalised fully-connected layers fc6/fc7.
type VGGConfig struct {
	Stages [5][]int64
	FCDim  int64
	FC6K   int64 // kernel size of fc6
}

// VGG16Config is the configuration of the FCN-8s VGG16 backbone.
func VGG16Config() VGGConfig {
	return VGGConfig{
		Stages: [5][]int64{
			{64, 64},
			{128, 128},
			{256, 256, 256},
			{512, 512, 512},
			{512, 512, 512},
		},
		FCDim: 4096,
		FC6K:  7,
	}
}

// MiniVGGConfig is a narrow VGG with one conv per stage, for smoke runs.
func MiniVGGConfig() VGGConfig {
	return VGGConfig{
		Stages: [5][]int64{{4}, {8}, {8}, {16}, {16}},
		FCDim:  16,
		FC6K:   3,
	}
}

func (c VGGConfig) channels() [3]int64 {
	last := func(s []int64) int64 { return s[len(s)-1] }
	return [3]int64{last(c.Stages[2]), last(c.Stages[3]), c.FCDim}
}

// VGG is a VGG encoder with fc6/fc7 as convolutions.
//
// Variables are named `features.N.{weight,bias}` following the torchvision
// layer indices (pool layers take an index too), then `fc6` and `fc7`.
type VGG struct {
	stages   [5]*nn.SequentialT
	fc6      *nn.Conv2D
	fc7      *nn.Conv2D
	channels [3]int64
}

// NewVGG creates a VGG encoder at path p.
func NewVGG(p *nn.Path, cfg VGGConfig) *VGG {
	features := p.Sub("features")
	var (
		stages [5]*nn.SequentialT
		cIn    int64 = 3
		idx          = 0
	)
	for s, widths := range cfg.Stages {
		seq := nn.SeqT()
		for _, cOut := range widths {
			seq.Add(base.Conv2d(features.Sub(fmt.Sprint(idx)), cIn, cOut, 3, 1, 1))
			seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
				return xs.MustRelu(false)
			}))
			cIn = cOut
			idx += 2
		}
		seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
			return xs.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
		}))
		idx++
		stages[s] = seq
	}

	fc6 := base.Conv2d(p.Sub("fc6"), cIn, cfg.FCDim, cfg.FC6K, cfg.FC6K/2, 1)
	fc7 := base.Conv2d(p.Sub("fc7"), cfg.FCDim, cfg.FCDim, 1, 0, 1)

	return &VGG{
		stages:   stages,
		fc6:      fc6,
		fc7:      fc7,
		channels: cfg.channels(),
	}
}

// Channels implements Encoder.
func (e *VGG) Channels() [3]int64 {
	return e.channels
}

// ForwardAll implements Encoder for VGG.
func (e *VGG) ForwardAll(x *ts.Tensor, keepProb float64, train bool) []*ts.Tensor {
	xn := rgbNormalize(x)
	x1 := e.stages[0].ForwardT(xn, train) // stride 2
	xn.MustDrop()
	x2 := e.stages[1].ForwardT(x1, train) // stride 4
	x1.MustDrop()
	layer3 := e.stages[2].ForwardT(x2, train) // stride 8
	x2.MustDrop()
	layer4 := e.stages[3].ForwardT(layer3, train) // stride 16
	x5 := e.stages[4].ForwardT(layer4, train)     // stride 32

	fc6 := e.fc6.ForwardT(x5, train).MustRelu(true)
	x5.MustDrop()
	fc6 = dropout(fc6, keepProb, train)
	fc7 := e.fc7.ForwardT(fc6, train).MustRelu(true)
	fc6.MustDrop()
	layer7 := dropout(fc7, keepProb, train)

	return []*ts.Tensor{layer3, layer4, layer7}
}
