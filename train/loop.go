// Package train builds the FCN training objective and runs the epoch/batch
// training loop.
package train

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sugarme/fcn/dataset"
	"github.com/sugarme/fcn/report"
)

// Stepper executes one optimization step on a batch and returns its loss.
type Stepper interface {
	Step(b *dataset.Batch, hp Hyperparams) (float64, error)
}

// Loop runs a fixed number of epochs over a batch source.
//
// For every batch it prints the batch index; after every epoch it prints the
// loss of the last batch of that epoch.
type Loop struct {
	Epochs    int
	BatchSize int
	Hyper     Hyperparams
	Out       io.Writer       // defaults to os.Stdout
	History   *report.History // optional per-step record
}

// Run trains until all epochs are done and returns the per-epoch losses.
// The first error aborts the run.
func (l *Loop) Run(src dataset.Source, op Stepper) ([]float64, error) {
	if l.Epochs <= 0 {
		return nil, errors.Errorf("epochs must be > 0 (got %d)", l.Epochs)
	}
	if l.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0 (got %d)", l.BatchSize)
	}
	out := l.Out
	if out == nil {
		out = os.Stdout
	}

	losses := make([]float64, 0, l.Epochs)
	for e := 1; e <= l.Epochs; e++ {
		fmt.Fprintf(out, "Training epoch: %d\n", e)
		start := time.Now()

		it, err := src.Batches(l.BatchSize)
		if err != nil {
			return losses, errors.Wrapf(err, "epoch %d: batches", e)
		}

		var (
			count int
			loss  float64
		)
		for it.HasNext() {
			dataStart := time.Now()
			b, err := it.Next()
			if err != nil {
				return losses, errors.Wrapf(err, "epoch %d batch %d: load", e, count+1)
			}
			dataTime := time.Since(dataStart)

			stepStart := time.Now()
			loss, err = op.Step(b, l.Hyper)
			b.Release()
			if err != nil {
				return losses, errors.Wrapf(err, "epoch %d batch %d", e, count+1)
			}
			count++
			fmt.Fprintf(out, "\tBatch: %d\n", count)
			klog.V(2).Infof("epoch=%d batch=%d data_ms=%.2f step_ms=%.2f loss=%.6f",
				e, count, ms(dataTime), ms(time.Since(stepStart)), loss)
			if l.History != nil {
				l.History.Record(e, count, loss)
			}
		}
		if count == 0 {
			return losses, errors.Errorf("epoch %d: batch source yielded no batches", e)
		}

		fmt.Fprintf(out, "Model loss: %.4f\n", loss)
		klog.V(1).Infof("epoch %d: %d batches in %v", e, count, time.Since(start).Round(time.Millisecond))
		losses = append(losses, loss)
	}

	return losses, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
