package encoder

import (
	"strconv"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/fcn/base"
)

// ResNetConfig holds the number of basic blocks of each residual stage.
type ResNetConfig struct {
	Blocks [4]int
}

// ResNet18Config returns the ResNet18 block layout.
func ResNet18Config() ResNetConfig { return ResNetConfig{Blocks: [4]int{2, 2, 2, 2}} }

// ResNet34Config returns the ResNet34 block layout.
func ResNet34Config() ResNetConfig { return ResNetConfig{Blocks: [4]int{3, 4, 6, 3}} }

var resnetWidths = [4]int64{64, 128, 256, 512}

// ResNet is a basic-block ResNet feature extractor. Variable names follow
// torchvision so pretrained weights load as is. Stages 2, 3 and 4 give the
// stride 8, 16 and 32 feature maps.
type ResNet struct {
	stem   *nn.SequentialT
	stages [4][]*residual
}

// NewResNet builds a ResNet at p.
func NewResNet(p *nn.Path, cfg ResNetConfig) *ResNet {
	// conv1 and bn1 sit at the root of pretrained checkpoints
	stem := nn.SeqT()
	stem.Add(base.Conv2dNoBias(p.Sub("conv1"), 3, 64, 7, 3, 2))
	stem.Add(nn.BatchNorm2D(p.Sub("bn1"), 64, nn.DefaultBatchNormConfig()))
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	stem.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustMaxPool2d([]int64{3, 3}, []int64{2, 2}, []int64{1, 1}, []int64{1, 1}, false, false)
	}))

	r := &ResNet{stem: stem}
	cIn := int64(64)
	for s, n := range cfg.Blocks {
		sp := p.Sub("layer" + strconv.Itoa(s+1))
		stride := int64(2)
		if s == 0 {
			stride = 1
		}
		for i := 0; i < n; i++ {
			r.stages[s] = append(r.stages[s], newResidual(sp.Sub(strconv.Itoa(i)), cIn, resnetWidths[s], stride))
			cIn, stride = resnetWidths[s], 1
		}
	}

	return r
}

// Channels implements Encoder.
func (r *ResNet) Channels() [3]int64 {
	return [3]int64{resnetWidths[1], resnetWidths[2], resnetWidths[3]}
}

// ForwardAll implements Encoder.
func (r *ResNet) ForwardAll(x *ts.Tensor, keepProb float64, train bool) []*ts.Tensor {
	xn := rgbNormalize(x)
	h := r.stem.ForwardT(xn, train) // stride 4
	xn.MustDrop()

	feats := make([]*ts.Tensor, 0, 3)
	kept := false // h is a returned feature map
	for s, blocks := range r.stages {
		for _, b := range blocks {
			next := b.ForwardT(h, train)
			if !kept {
				h.MustDrop()
			}
			h, kept = next, false
		}
		if s > 0 {
			feats = append(feats, h)
			kept = true
		}
	}
	feats[2] = dropout(feats[2], keepProb, train)

	return feats
}

// residual is a two-conv basic block with an optional projection shortcut.
type residual struct {
	conv1    *nn.Conv2D
	bn1      *nn.BatchNorm
	conv2    *nn.Conv2D
	bn2      *nn.BatchNorm
	shortcut *nn.SequentialT // nil means identity
}

func newResidual(p *nn.Path, cIn, cOut, stride int64) *residual {
	b := &residual{
		conv1: base.Conv2dNoBias(p.Sub("conv1"), cIn, cOut, 3, 1, stride),
		bn1:   nn.BatchNorm2D(p.Sub("bn1"), cOut, nn.DefaultBatchNormConfig()),
		conv2: base.Conv2dNoBias(p.Sub("conv2"), cOut, cOut, 3, 1, 1),
		bn2:   nn.BatchNorm2D(p.Sub("bn2"), cOut, nn.DefaultBatchNormConfig()),
	}
	if stride != 1 || cIn != cOut {
		dp := p.Sub("downsample")
		b.shortcut = nn.SeqT()
		b.shortcut.Add(base.Conv2dNoBias(dp.Sub("0"), cIn, cOut, 1, 0, stride))
		b.shortcut.Add(nn.BatchNorm2D(dp.Sub("1"), cOut, nn.DefaultBatchNormConfig()))
	}
	return b
}

// ForwardT computes relu(bn2(conv2(relu(bn1(conv1(x))))) + shortcut(x)).
// x is not dropped.
func (b *residual) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := b.conv1.ForwardT(x, train)
	h := b.bn1.ForwardT(c1, train).MustRelu(true)
	c1.MustDrop()
	c2 := b.conv2.ForwardT(h, train)
	h.MustDrop()
	h = b.bn2.ForwardT(c2, train)
	c2.MustDrop()

	if b.shortcut == nil {
		return h.MustAdd(x, true).MustRelu(true)
	}
	sc := b.shortcut.ForwardT(x, train)
	out := h.MustAdd(sc, true).MustRelu(true)
	sc.MustDrop()
	return out
}
