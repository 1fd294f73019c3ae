package boardsel

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deskInitScript() []fakeI2CCall {
	return []fakeI2CCall{
		{addr: deskAddr, want: []byte{regConfig0, 0x00}},
		{addr: deskAddr, want: []byte{regConfig1, 0x00}},
		{addr: deskAddr, want: []byte{regOutput0, 0xff}},
		{addr: deskAddr, want: []byte{regOutput1, 0xff}},
	}
}

func TestDeskSelectDeselectsThenSelects(t *testing.T) {
	bus := &fakeI2CBus{calls: deskInitScript()}
	desk, err := NewDesk(bus, zerolog.Nop())
	require.NoError(t, err)
	bus.calls = append(bus.calls,
		fakeI2CCall{addr: deskAddr, want: []byte{regOutput1, 0xff}},
		fakeI2CCall{addr: deskAddr, want: []byte{regOutput1, 0xfb}}, // ^(1<<2)
	)
	require.True(t, desk.Select(2))
	assert.Equal(t, 2, desk.activeChain)
	desk.Release()
}

func TestDeskSetWiperWritesWiperByte(t *testing.T) {
	bus := &fakeI2CBus{calls: deskInitScript()}
	desk, err := NewDesk(bus, zerolog.Nop())
	require.NoError(t, err)
	bus.calls = append(bus.calls, fakeI2CCall{addr: uint16(deskWiperBase + 3), want: []byte{0x42}})
	assert.True(t, desk.SetWiper(3, 0x42))
}

func TestDeskSelectOutOfRange(t *testing.T) {
	bus := &fakeI2CBus{calls: deskInitScript()}
	desk, err := NewDesk(bus, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, desk.Select(5), "5 is out of range for a 5-chain Desk")
}
