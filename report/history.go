// Package report keeps the per-step loss record of a training run and
// renders it as CSV or a plot.
package report

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Step is one recorded optimizer step.
type Step struct {
	Epoch int
	Batch int
	Loss  float64
}

// History is the ordered list of steps of a run.
type History struct {
	Steps []Step
}

// Record appends a step.
func (h *History) Record(epoch, batch int, loss float64) {
	h.Steps = append(h.Steps, Step{Epoch: epoch, Batch: batch, Loss: loss})
}

// Len returns the number of recorded steps.
func (h *History) Len() int {
	return len(h.Steps)
}

// DataFrame returns the history as columns epoch, batch, loss.
func (h *History) DataFrame() dataframe.DataFrame {
	epochs := make([]int, len(h.Steps))
	batches := make([]int, len(h.Steps))
	losses := make([]float64, len(h.Steps))
	for i, s := range h.Steps {
		epochs[i] = s.Epoch
		batches[i] = s.Batch
		losses[i] = s.Loss
	}

	return dataframe.New(
		series.New(epochs, series.Int, "epoch"),
		series.New(batches, series.Int, "batch"),
		series.New(losses, series.Float, "loss"),
	)
}

// WriteCSV writes the history with a header row.
func (h *History) WriteCSV(w io.Writer) error {
	df := h.DataFrame()
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// SavePlot draws loss against step number into path. The image format
// follows the file extension.
func (h *History) SavePlot(path string) error {
	if len(h.Steps) == 0 {
		return errors.New("empty history")
	}

	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Training loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "cross entropy"

	pts := make(plotter.XYs, len(h.Steps))
	for i, s := range h.Steps {
		pts[i].X = float64(i + 1)
		pts[i].Y = s.Loss
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
