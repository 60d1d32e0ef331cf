package base

import (
	"github.com/sugarme/gotch/nn"
)

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dNoBias creates Conv2D with no bias.
func Conv2dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// ConvTranspose2dSame creates a ConvTranspose2D whose output is exactly
// `stride` times its input in height and width (TF "same" padding).
func ConvTranspose2dSame(p *nn.Path, cIn, cOut, ksize, stride int64) *nn.ConvTranspose2D {
	padding, outPadding := SamePadding(ksize, stride)
	config := &nn.ConvTranspose2DConfig{
		Stride:        []int64{stride, stride},
		Padding:       []int64{padding, padding},
		OutputPadding: []int64{outPadding, outPadding},
		Dilation:      []int64{1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        nn.NewKaimingUniformInit(),
		BsInit:        nn.NewConstInit(0),
	}

	return nn.NewConvTranspose2D(p, cIn, cOut, []int64{ksize, ksize}, config)
}

// SamePadding returns padding and output padding of a transposed convolution
// with kernel k and stride s so that out = in*s:
//
//	out = (in-1)*s - 2*padding + k + outPadding
//
// It requires k >= s.
func SamePadding(k, s int64) (padding, outPadding int64) {
	d := k - s
	padding = (d + 1) / 2
	outPadding = 2*padding - d
	return padding, outPadding
}
