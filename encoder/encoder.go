package encoder

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Strides are the downsampling factors of the three feature maps returned by
// every encoder, shallowest first.
var Strides = [3]int64{8, 16, 32}

// Encoder is the feature extractor of a segmentation model.
//
// ForwardAll takes an NCHW image batch and returns the stride-8, stride-16 and
// stride-32 feature maps, in that order. keepProb is the dropout keep
// probability, only applied when train is true.
type Encoder interface {
	ForwardAll(x *ts.Tensor, keepProb float64, train bool) []*ts.Tensor
	Channels() [3]int64
}

// New creates the encoder for the named architecture at path p.
func New(p *nn.Path, arch string) (Encoder, error) {
	switch arch {
	case "vgg16":
		return NewVGG(p, VGG16Config()), nil
	case "vgg-mini":
		return NewVGG(p, MiniVGGConfig()), nil
	case "resnet18":
		return NewResNet(p, ResNet18Config()), nil
	case "resnet34":
		return NewResNet(p, ResNet34Config()), nil
	default:
		return nil, errors.Errorf("unknown encoder architecture %q", arch)
	}
}

// ChannelsOf returns the feature channels of the named architecture without
// building it.
func ChannelsOf(arch string) ([3]int64, error) {
	switch arch {
	case "vgg16":
		return VGG16Config().channels(), nil
	case "vgg-mini":
		return MiniVGGConfig().channels(), nil
	case "resnet18", "resnet34":
		return [3]int64{resnetWidths[1], resnetWidths[2], resnetWidths[3]}, nil
	default:
		return [3]int64{}, errors.Errorf("unknown encoder architecture %q", arch)
	}
}

func rgbNormalize(x *ts.Tensor) *ts.Tensor {
	meanVals := []float32{0.485, 0.456, 0.406} // image RGB mean
	sdVals := []float32{0.229, 0.224, 0.225}   // image RGB standard error

	mean := ts.MustOfSlice(meanVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(x.MustDevice(), true)
	sd := ts.MustOfSlice(sdVals).MustView([]int64{1, 3, 1, 1}, true).MustTo(x.MustDevice(), true)

	// x = (x - mean)/sd
	n := x.MustSub(mean, false).MustDiv(sd, true)
	mean.MustDrop()
	sd.MustDrop()

	return n
}

func dropout(x *ts.Tensor, keepProb float64, train bool) *ts.Tensor {
	if !train || keepProb >= 1 {
		return x
	}
	y := ts.MustDropout(x, 1-keepProb, train)
	x.MustDrop()
	return y
}
