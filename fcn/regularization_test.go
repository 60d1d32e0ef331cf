package fcn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"

	"github.com/sugarme/fcn/backbone"
)

func TestRegularizationLoss(t *testing.T) {
	cfg := DecoderConfig{
		Layer3:     backbone.FeatureEndpoint{Stride: 8, Channels: 4},
		Layer4:     backbone.FeatureEndpoint{Stride: 16, Channels: 4},
		Layer7:     backbone.FeatureEndpoint{Stride: 32, Channels: 4},
		NumClasses: 2,
		RegRate:    1e-3,
	}
	vs := nn.NewVarStore(gotch.CPU)
	dec, err := NewDecoder(vs.Root(), cfg)
	require.NoError(t, err)

	var want float64
	for _, w := range [][]float64{
		dec.score7.Ws.Float64Values(), dec.score4.Ws.Float64Values(), dec.score3.Ws.Float64Values(),
		dec.up2a.Ws.Float64Values(), dec.up2b.Ws.Float64Values(), dec.up8.Ws.Float64Values(),
	} {
		for _, v := range w {
			want += v * v
		}
	}
	want *= cfg.RegRate / 2

	reg := dec.RegularizationLoss()
	defer reg.MustDrop()
	assert.InDelta(t, want, reg.Float64Values()[0], 1e-6)
	assert.Greater(t, want, 0.0)
}
