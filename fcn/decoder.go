package fcn

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/backbone"
	"github.com/sugarme/fcn/base"
)

// DecoderConfig configures the skip-fusion decoder.
type DecoderConfig struct {
	Layer3     backbone.FeatureEndpoint
	Layer4     backbone.FeatureEndpoint
	Layer7     backbone.FeatureEndpoint
	NumClasses int64
	RegRate    float64 // L2 rate applied to every decoder kernel
}

// DefaultDecoderConfig returns the decoder config for a loaded backbone.
func DefaultDecoderConfig(bb *backbone.Backbone, numClasses int64) DecoderConfig {
	return DecoderConfig{
		Layer3:     bb.Layer3,
		Layer4:     bb.Layer4,
		Layer7:     bb.Layer7,
		NumClasses: numClasses,
		RegRate:    1e-3,
	}
}

// upsampling stages: factor and transposed conv kernel size.
var (
	upFactors = [3]int64{2, 2, 8}
	upKernels = [3]int64{4, 4, 16}
)

// UpsampleFactors returns the factors of the three upsampling stages.
func UpsampleFactors() [3]int64 {
	return upFactors
}

// Decoder is the FCN-8s head: it scores the stride 32, 16 and 8 feature maps,
// upsamples the coarse scores and fuses them with the finer ones.
type Decoder struct {
	score7 *nn.Conv2D
	score4 *nn.Conv2D
	score3 *nn.Conv2D
	up2a   *nn.ConvTranspose2D
	up2b   *nn.ConvTranspose2D
	up8    *nn.ConvTranspose2D

	regRate float64
}

// NewDecoder creates the decoder at path p. It fails if the feature strides
// cannot be brought back to full resolution by the upsampling stages.
func NewDecoder(p *nn.Path, cfg DecoderConfig) (*Decoder, error) {
	if cfg.NumClasses < 1 {
		return nil, errors.Errorf("decoder: num classes must be > 0 (got %d)", cfg.NumClasses)
	}
	strides := []int64{cfg.Layer7.Stride, cfg.Layer4.Stride, cfg.Layer3.Stride, 1}
	for i, f := range upFactors {
		if strides[i] != strides[i+1]*f {
			return nil, errors.Errorf("decoder: upsampling by %d maps stride %d to %d, want %d",
				f, strides[i], strides[i]/f, strides[i+1])
		}
	}

	nclasses := cfg.NumClasses
	return &Decoder{
		score7:  base.NewScoreLayer(p.Sub("score7"), cfg.Layer7.Channels, nclasses),
		score4:  base.NewScoreLayer(p.Sub("score4"), cfg.Layer4.Channels, nclasses),
		score3:  base.NewScoreLayer(p.Sub("score3"), cfg.Layer3.Channels, nclasses),
		up2a:    base.ConvTranspose2dSame(p.Sub("up2a"), nclasses, nclasses, upKernels[0], upFactors[0]),
		up2b:    base.ConvTranspose2dSame(p.Sub("up2b"), nclasses, nclasses, upKernels[1], upFactors[1]),
		up8:     base.ConvTranspose2dSame(p.Sub("up8"), nclasses, nclasses, upKernels[2], upFactors[2]),
		regRate: cfg.RegRate,
	}, nil
}

// ForwardFeatures computes NCHW class logits at input resolution. The
// feature tensors are not dropped.
func (d *Decoder) ForwardFeatures(f backbone.Features) *ts.Tensor {
	a := d.score7.Forward(f.Layer7)
	b := d.up2a.Forward(a)
	a.MustDrop()
	c := d.score4.Forward(f.Layer4)
	mustMatch("skip 1", b, c)
	fused1 := b.MustAdd(c, true)
	c.MustDrop()

	up := d.up2b.Forward(fused1)
	fused1.MustDrop()
	e := d.score3.Forward(f.Layer3)
	mustMatch("skip 2", up, e)
	fused2 := up.MustAdd(e, true)
	e.MustDrop()

	logits := d.up8.Forward(fused2)
	fused2.MustDrop()

	return logits
}

// RegularizationLoss returns sum(rate * ||W||^2 / 2) over the decoder
// kernels. Biases are not regularized.
func (d *Decoder) RegularizationLoss() *ts.Tensor {
	kernels := []*ts.Tensor{d.score7.Ws, d.up2a.Ws, d.score4.Ws, d.up2b.Ws, d.score3.Ws, d.up8.Ws}
	var total *ts.Tensor
	for _, w := range kernels {
		sq := w.MustMul(w, false).MustSum(gotch.Float, true)
		if total == nil {
			total = sq
			continue
		}
		total = total.MustAdd(sq, true)
		sq.MustDrop()
	}

	return total.MustMul1(ts.FloatScalar(d.regRate/2), true)
}

func mustMatch(at string, x, y *ts.Tensor) {
	xSize := x.MustSize()
	ySize := y.MustSize()
	if !reflect.DeepEqual(xSize, ySize) {
		panic(fmt.Sprintf("decoder %s: upsampled scores %v do not match skip scores %v", at, xSize, ySize))
	}
}
