package train

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/fcn/dataset"
	"github.com/sugarme/fcn/fcn"
	"github.com/sugarme/fcn/metric"
)

// Hyperparams are the per-step inputs of the optimizer.
type Hyperparams struct {
	LearningRate float64
	KeepProb     float64 // dropout keep probability in training mode
}

// DefaultHyperparams returns learning rate 0.001 and keep probability 0.8.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		LearningRate: 0.001,
		KeepProb:     0.8,
	}
}

// OptimizerConfig configures the optimization objective.
type OptimizerConfig struct {
	Adam *nn.AdamConfig
	// Regularize adds the decoder L2 term to the minimized objective. Off by
	// default. The reported loss is always the plain cross entropy.
	Regularize bool
}

// DefaultOptimizerConfig returns Adam (0.9, 0.999) minimizing the plain
// cross entropy.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Adam: nn.DefaultAdamConfig(),
	}
}

// Objective holds the tensors of one loss evaluation.
type Objective struct {
	Logits       *ts.Tensor // (pixels, classes)
	Labels       *ts.Tensor // (pixels, classes), float32
	CrossEntropy *ts.Tensor // scalar
	Total        *ts.Tensor // scalar, the minimized value
}

// Drop frees the objective tensors.
func (o *Objective) Drop() {
	if o.Total != o.CrossEntropy {
		o.Total.MustDrop()
	}
	o.CrossEntropy.MustDrop()
	o.Logits.MustDrop()
	o.Labels.MustDrop()
}

// TrainOp performs optimization steps of a model. It owns the optimizer
// moments; together with the VarStore they are the training state.
type TrainOp struct {
	model  *fcn.FCN8
	opt    *nn.Optimizer
	cfg    OptimizerConfig
	device gotch.Device
}

// Optimize builds an Adam optimizer over every variable of vs minimizing
// the pixel-wise cross entropy of model.
func Optimize(vs *nn.VarStore, model *fcn.FCN8, cfg OptimizerConfig, lr float64) (*TrainOp, error) {
	if cfg.Adam == nil {
		cfg.Adam = nn.DefaultAdamConfig()
	}
	opt, err := cfg.Adam.Build(vs, lr)
	if err != nil {
		return nil, errors.Wrap(err, "build Adam optimizer")
	}

	return &TrainOp{
		model:  model,
		opt:    opt,
		cfg:    cfg,
		device: vs.Device(),
	}, nil
}

// Objective evaluates the loss of a batch. images and labels are NHWC and
// are not dropped.
func (op *TrainOp) Objective(images, labels *ts.Tensor, keepProb float64, train bool) *Objective {
	nclasses := op.model.NumClasses

	input := images.MustTo(op.device, false)
	out := op.model.ForwardT(input, keepProb, train)
	input.MustDrop()
	logits := metric.FlattenLogits(out, nclasses)
	out.MustDrop()

	target := labels.MustTo(op.device, false)
	flat := metric.FlattenLabels(target, nclasses)
	target.MustDrop()

	ce := metric.SoftmaxCrossEntropy(logits, flat)
	total := ce
	if op.cfg.Regularize {
		reg := op.model.Decoder.RegularizationLoss()
		total = ce.MustAdd(reg, false)
		reg.MustDrop()
	}

	return &Objective{
		Logits:       logits,
		Labels:       flat,
		CrossEntropy: ce,
		Total:        total,
	}
}

// Step runs one forward, backward and Adam update on b and returns the batch
// cross entropy. Shape check panics of the model and the loss, and non-finite
// losses, are returned as errors. gotch Must* failures still exit the process.
func (op *TrainOp) Step(b *dataset.Batch, hp Hyperparams) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("optimizer step: %v", r)
		}
	}()

	op.opt.SetLR(hp.LearningRate)
	obj := op.Objective(b.Images, b.Labels, hp.KeepProb, true)
	op.opt.BackwardStep(obj.Total)
	loss = obj.CrossEntropy.Float64Values()[0]
	if klog.V(3).Enabled() {
		klog.Infof("pixel accuracy %.4f", metric.PixelAccuracy(obj.Logits, obj.Labels))
	}
	obj.Drop()

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, errors.Errorf("non-finite loss %v", loss)
	}

	return loss, nil
}
