package sip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshIntervalIsThreeQuartersOfExpiry(t *testing.T) {
	assert.Equal(t, 2700*time.Second, refreshInterval(3600))
	assert.Equal(t, 75*time.Second, refreshInterval(100))
}

func TestAgentStateString(t *testing.T) {
	cases := map[AgentState]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Registering:  "registering",
		Registered:   "registered",
		AgentFailed:  "failed",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
