// Package fcn implements FCN-8s: a pretrained backbone followed by a decoder
// that upsamples class scores and fuses them with shallower feature maps.
// Ref: https://arxiv.org/abs/1411.4038
package fcn

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/backbone"
)

// FCN8 is a backbone plus skip-fusion decoder.
type FCN8 struct {
	Backbone   *backbone.Backbone
	Decoder    *Decoder
	NumClasses int64
}

// New creates the decoder under "decoder" in vs and joins it to bb.
func New(vs *nn.VarStore, bb *backbone.Backbone, cfg DecoderConfig) (*FCN8, error) {
	dec, err := NewDecoder(vs.Root().Sub("decoder"), cfg)
	if err != nil {
		return nil, err
	}
	return &FCN8{Backbone: bb, Decoder: dec, NumClasses: cfg.NumClasses}, nil
}

// ForwardT maps NHWC images to NHWC class logits of the same height and
// width. Height and width must be multiples of the backbone's largest
// stride.
func (m *FCN8) ForwardT(images *ts.Tensor, keepProb float64, train bool) *ts.Tensor {
	if err := m.CheckInput(images.MustSize()); err != nil {
		panic(err.Error())
	}

	x := images.MustPermute([]int64{0, 3, 1, 2}, false) // NHWC -> NCHW
	feats := m.Backbone.Forward(x, keepProb, train)
	x.MustDrop()
	logits := m.Decoder.ForwardFeatures(feats)
	feats.Drop()

	return logits.MustPermute([]int64{0, 2, 3, 1}, true) // NCHW -> NHWC
}

// CheckInput reports whether size is an NHWC image batch the model accepts:
// 3 channels, height and width multiples of the backbone's largest stride.
func (m *FCN8) CheckInput(size []int64) error {
	stride := m.Backbone.Layer7.Stride
	if len(size) != 4 || size[3] != m.Backbone.ImageInput.Channels || size[1]%stride != 0 || size[2]%stride != 0 {
		return errors.Errorf("fcn: image batch %v is not NHWC with %d channels and height and width multiples of %d",
			size, m.Backbone.ImageInput.Channels, stride)
	}
	return nil
}

// Predict runs inference: no dropout, evaluation mode.
func (m *FCN8) Predict(images *ts.Tensor) *ts.Tensor {
	return m.ForwardT(images, 1.0, false)
}
