package metric

import (
	"fmt"
	"reflect"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// FlattenLogits reshapes NHWC logits to (N*H*W, nclasses). Rows are ordered
// row-major over batch, height and width.
func FlattenLogits(logits *ts.Tensor, nclasses int64) *ts.Tensor {
	return logits.MustReshape([]int64{-1, nclasses}, false)
}

// FlattenLabels reshapes NHWC labels to (N*H*W, nclasses) float32 rows, in
// the same row order as FlattenLogits.
func FlattenLabels(labels *ts.Tensor, nclasses int64) *ts.Tensor {
	return labels.MustReshape([]int64{-1, nclasses}, false).MustTotype(gotch.Float, true)
}

// SoftmaxCrossEntropy computes mean over rows of -sum_c(label * log_softmax(logit)).
//
// Labels are expected one-hot (or any distribution) per row. They are not
// validated.
func SoftmaxCrossEntropy(logits, labels *ts.Tensor) *ts.Tensor {
	lSize := logits.MustSize()
	tSize := labels.MustSize()
	if len(lSize) != 2 || !reflect.DeepEqual(lSize, tSize) {
		panic(fmt.Sprintf("softmax cross entropy: logits %v and labels %v must be equal 2D shapes", lSize, tSize))
	}

	logp := logits.MustLogSoftmax(1, gotch.Float, false)
	// sum_c(label * log p) per row
	rowSum := labels.MustMul(logp, false).MustSum1([]int64{1}, false, gotch.Float, true)
	logp.MustDrop()

	return rowSum.MustMean(gotch.Float, true).MustMul1(ts.FloatScalar(-1), true)
}

// PixelAccuracy returns the fraction of rows whose highest logit is the
// label's highest entry.
func PixelAccuracy(logits, labels *ts.Tensor) float64 {
	size := logits.MustSize()
	nclasses := int(size[len(size)-1])
	lv := logits.MustContiguous(false)
	tv := labels.MustContiguous(false)
	lvals := lv.Float64Values()
	tvals := tv.Float64Values()
	lv.MustDrop()
	tv.MustDrop()

	rows := len(lvals) / nclasses
	if rows == 0 {
		return 0
	}
	var correct int
	for r := 0; r < rows; r++ {
		if argmax(lvals[r*nclasses:(r+1)*nclasses]) == argmax(tvals[r*nclasses:(r+1)*nclasses]) {
			correct++
		}
	}

	return float64(correct) / float64(rows)
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}
