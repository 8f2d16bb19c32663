package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateChannelOpen, true},
		{StateConnecting, StateClosed, true},
		{StateChannelOpen, StateConsuming, true},
		{StateChannelOpen, StateClosed, true},
		{StateConsuming, StateShuttingDown, true},
		{StateShuttingDown, StateClosed, true},

		{StateConnecting, StateConsuming, false},
		{StateConsuming, StateClosed, false},
		{StateShuttingDown, StateConsuming, false},
		{StateClosed, StateConnecting, false},
		{StateClosed, StateConsuming, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "channel_open", StateChannelOpen.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "State(42)", State(42).String())
}
