package base

import "github.com/sugarme/gotch/nn"

// NewScoreLayer creates a 1x1 convolution projecting cIn feature channels
// onto nclasses class scores.
func NewScoreLayer(p *nn.Path, cIn, nclasses int64) *nn.Conv2D {
	return Conv2d(p, cIn, nclasses, 1, 0, 1)
}
