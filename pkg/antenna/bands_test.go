package antenna

import (
	"testing"

	"github.com/dougsko/steppird/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandUp(t *testing.T) {
	tests := []struct {
		from protocol.Frequency
		want protocol.Frequency
	}{
		{7074000, 10100000},
		{10136000, 14000000},
		{14074000, 18068000},
		{18100000, 21000000},
		{21074000, 24890000},
		{24915000, 28000000},
		{28074000, 50000000},
		{50313000, 7000000},
		{55000000, 55000000},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, BandUp(tt.from))
		})
	}
}

func TestBandDown(t *testing.T) {
	tests := []struct {
		from protocol.Frequency
		want protocol.Frequency
	}{
		{50313000, 28000000},
		{28074000, 24890000},
		{24915000, 21000000},
		{21074000, 18068000},
		{18100000, 14000000},
		{14074000, 10100000},
		{10136000, 7000000},
		{7074000, 50000000},
		{3573000, 3573000},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, BandDown(tt.from))
		})
	}
}

func TestJog(t *testing.T) {
	assert.Equal(t, protocol.Frequency(14084000), Jog(14074000, Step10kHz))
	assert.Equal(t, protocol.Frequency(13974000), Jog(14074000, -Step100kHz))
	assert.Equal(t, protocol.Frequency(0), Jog(500000, -Step1MHz))
	assert.Equal(t, protocol.MaxFrequency, Jog(protocol.MaxFrequency-1, Step1MHz))
}

func TestParseDirection(t *testing.T) {
	for _, name := range []string{"normal", "180", "bidirectional"} {
		dir, err := ParseDirection(name)
		require.NoError(t, err)
		assert.Equal(t, name, dir.String())
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestCommandApply(t *testing.T) {
	ctrl := NewMockController()

	assert.ErrorIs(t, Apply(ctrl, Retract()), ErrNotConnected)

	require.NoError(t, ctrl.Initialize())
	require.NoError(t, Apply(ctrl, SetFrequency(21074000)))
	require.NoError(t, Apply(ctrl, SetDirection(DirectionBidirectional)))
	require.NoError(t, Apply(ctrl, SetAutotrack(true)))

	freq, err := ctrl.GetFrequency()
	require.NoError(t, err)
	assert.Equal(t, protocol.Frequency(21074000), freq)
	assert.Equal(t, DirectionBidirectional, ctrl.Direction())
	assert.True(t, ctrl.Autotrack())
	assert.ErrorIs(t, Apply(ctrl, SetFrequency(protocol.MaxFrequency+1)), ErrOutOfRange)

	assert.Equal(t, "set_frequency(21074000)", SetFrequency(21074000).String())
	assert.True(t, SetFrequency(1).Coalescable())
	assert.False(t, Retract().Coalescable())
	assert.True(t, SetDirection(Direction180).IsDirection())
}
