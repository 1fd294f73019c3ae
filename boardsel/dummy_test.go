package boardsel

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummySelectOnlyChainZero(t *testing.T) {
	d := &Dummy{}
	require.True(t, d.Select(0))
	d.Release()
	assert.False(t, d.Select(1), "dummy only has chain 0")
}

func TestDummySetWiperUnsupported(t *testing.T) {
	d := &Dummy{}
	assert.False(t, d.SetWiper(0, 0x10), "dummy has no trimpot")
}

func TestProbeNilBusFallsBackToDummy(t *testing.T) {
	sel, err := Probe(nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Dummy{}, sel)
}
