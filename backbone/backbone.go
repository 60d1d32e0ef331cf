// Package backbone restores a pretrained feature extractor into a VarStore
// and hands back typed handles to its entry points.
package backbone

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"k8s.io/klog/v2"

	"github.com/sugarme/fcn/encoder"
)

// Entry point names every backbone artifact exposes.
const (
	ImageInputName = "image_input"
	KeepProbName   = "keep_prob"
	Layer3Name     = "layer3_out"
	Layer4Name     = "layer4_out"
	Layer7Name     = "layer7_out"
)

// EntryPoints lists the required entry points in signature order.
var EntryPoints = []string{ImageInputName, KeepProbName, Layer3Name, Layer4Name, Layer7Name}

var (
	// ErrNotFound is returned when a tag or entry point is absent from an
	// artifact.
	ErrNotFound = errors.New("not found")
	// ErrSignature is returned when an entry point disagrees with the
	// architecture named by the tag.
	ErrSignature = errors.New("signature mismatch")
)

// Endpoint is an input entry point.
type Endpoint struct {
	Name     string
	Channels int64
}

// FeatureEndpoint is a feature map entry point.
type FeatureEndpoint struct {
	Name     string
	Stride   int64
	Channels int64
}

// Features holds the three feature maps of one forward pass, NCHW.
type Features struct {
	Layer3 *ts.Tensor // stride 8
	Layer4 *ts.Tensor // stride 16
	Layer7 *ts.Tensor // stride 32
}

// Drop frees the feature maps.
func (f Features) Drop() {
	f.Layer3.MustDrop()
	f.Layer4.MustDrop()
	f.Layer7.MustDrop()
}

// Backbone is a loaded feature extractor.
type Backbone struct {
	Tag        string
	ImageInput Endpoint
	KeepProb   Endpoint
	Layer3     FeatureEndpoint
	Layer4     FeatureEndpoint
	Layer7     FeatureEndpoint

	net encoder.Encoder
}

// Forward runs images (NCHW, values in [0, 1]) through the backbone.
func (b *Backbone) Forward(images *ts.Tensor, keepProb float64, train bool) Features {
	xs := b.net.ForwardAll(images, keepProb, train)
	return Features{Layer3: xs[0], Layer4: xs[1], Layer7: xs[2]}
}

// Load reads the artifact in dir, builds the tagged architecture at the root
// of vs and restores its weights. Any missing entry point or variable is an
// error and nothing is returned.
func Load(vs *nn.VarStore, dir, tag string) (*Backbone, error) {
	sig, err := ReadSignature(SignaturePath(dir), tag)
	if err != nil {
		return nil, err
	}
	bb, err := fromSignature(tag, sig)
	if err != nil {
		return nil, err
	}

	net, err := encoder.New(vs.Root(), tag)
	if err != nil {
		return nil, errors.Wrapf(ErrSignature, "%v", err)
	}
	if err := vs.Load(VariablesPath(dir)); err != nil {
		return nil, errors.Wrapf(err, "restore backbone %q from %s", tag, dir)
	}
	bb.net = net

	klog.Infof("backbone %q restored from %s: %s tensors, strides %d/%d/%d, channels %d/%d/%d",
		tag, dir, humanize.Comma(int64(vs.Len())),
		bb.Layer3.Stride, bb.Layer4.Stride, bb.Layer7.Stride,
		bb.Layer3.Channels, bb.Layer4.Channels, bb.Layer7.Channels)

	return bb, nil
}

func fromSignature(tag string, sig map[string]Entry) (*Backbone, error) {
	for _, name := range EntryPoints {
		if _, ok := sig[name]; !ok {
			return nil, errors.Wrapf(ErrNotFound, "backbone %q: entry point %q", tag, name)
		}
	}

	channels, err := encoder.ChannelsOf(tag)
	if err != nil {
		return nil, errors.Wrapf(ErrSignature, "%v", err)
	}

	bb := &Backbone{
		Tag:        tag,
		ImageInput: Endpoint{Name: ImageInputName, Channels: sig[ImageInputName].Channels},
		KeepProb:   Endpoint{Name: KeepProbName},
	}
	if bb.ImageInput.Channels != 3 {
		return nil, errors.Wrapf(ErrSignature, "%s has %d channels, want 3", ImageInputName, bb.ImageInput.Channels)
	}
	for i, f := range []*FeatureEndpoint{&bb.Layer3, &bb.Layer4, &bb.Layer7} {
		e := sig[EntryPoints[i+2]]
		if e.Kind != KindFeature {
			return nil, errors.Wrapf(ErrSignature, "%s has kind %q, want %q", e.Name, e.Kind, KindFeature)
		}
		if e.Stride != encoder.Strides[i] {
			return nil, errors.Wrapf(ErrSignature, "%s has stride %d, want %d", e.Name, e.Stride, encoder.Strides[i])
		}
		if e.Channels != channels[i] {
			return nil, errors.Wrapf(ErrSignature, "%s has %d channels, %q produces %d", e.Name, e.Channels, tag, channels[i])
		}
		*f = FeatureEndpoint{Name: e.Name, Stride: e.Stride, Channels: e.Channels}
	}

	return bb, nil
}

// Export builds the tagged architecture at the root of vs (unless it is
// already there) and writes it to dir as an artifact Load accepts.
func Export(vs *nn.VarStore, dir, tag string) error {
	if vs.Len() == 0 {
		if _, err := encoder.New(vs.Root(), tag); err != nil {
			return err
		}
	}
	if err := WriteSignature(dir, tag); err != nil {
		return err
	}
	if err := vs.Save(VariablesPath(dir)); err != nil {
		return errors.Wrapf(err, "save backbone variables to %s", dir)
	}
	return nil
}
