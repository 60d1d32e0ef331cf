// Package dataset provides minibatch sources for segmentation training.
//
// Images are NHWC float32 tensors in [0, 1]. Labels are NHWC one-hot tensors
// with one channel per class.
package dataset

import (
	"github.com/pkg/errors"
	ts "github.com/sugarme/gotch/tensor"
)

// Batch is one (image-batch, label-batch) pair.
type Batch struct {
	Images *ts.Tensor
	Labels *ts.Tensor

	owned bool
}

// Release frees the batch tensors if the batch owns them.
func (b *Batch) Release() {
	if !b.owned {
		return
	}
	if b.Images != nil {
		b.Images.MustDrop()
	}
	if b.Labels != nil {
		b.Labels.MustDrop()
	}
}

// Iterator is a finite, lazy sequence of batches covering one epoch.
type Iterator interface {
	HasNext() bool
	Next() (*Batch, error)
}

// Source hands out a fresh Iterator for every epoch.
type Source interface {
	Batches(batchSize int) (Iterator, error)
}

// Memory is a Source replaying a fixed list of batches each epoch. The batch
// size argument is ignored: batches are yielded as given.
//
// Memory keeps ownership of its tensors, consumers must not drop them.
type Memory struct {
	batches []Batch
}

// NewMemory creates a Memory source.
func NewMemory(batches ...Batch) *Memory {
	return &Memory{batches: batches}
}

// Len returns the number of batches per epoch.
func (m *Memory) Len() int {
	return len(m.batches)
}

// Batches implements Source.
func (m *Memory) Batches(batchSize int) (Iterator, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	return &memoryIter{batches: m.batches}, nil
}

type memoryIter struct {
	batches []Batch
	pos     int
}

func (it *memoryIter) HasNext() bool {
	return it.pos < len(it.batches)
}

func (it *memoryIter) Next() (*Batch, error) {
	if !it.HasNext() {
		return nil, errors.New("iterator exhausted")
	}
	b := it.batches[it.pos]
	it.pos++
	return &Batch{Images: b.Images, Labels: b.Labels}, nil
}
