package clone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "checking out", CheckingOut.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Requested, Discovering))
	assert.True(t, CanTransition(Persisting, Skipped))
	assert.True(t, CanTransition(Persisting, CheckingOut))
	assert.True(t, CanTransition(Discovering, Persisting))
	assert.False(t, CanTransition(Requested, Transferring))
	assert.False(t, CanTransition(Skipped, CheckingOut))

	for s := Requested; s < Complete; s++ {
		assert.True(t, CanTransition(s, Failed), s.String())
	}
	for _, s := range []State{Complete, Failed} {
		assert.True(t, s.Terminal())
		for to := Requested; to <= Failed; to++ {
			assert.False(t, CanTransition(s, to))
		}
	}
}
