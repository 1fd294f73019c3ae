package boardsel

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/physic"
)

// fakeI2CBus is a scripted periph i2c.Bus: each Tx call is matched
// against the addr/write bytes it expects, in order, mirroring
// a1testing.FakeConn's approach for spi.Conn.
type fakeI2CBus struct {
	calls []fakeI2CCall
	i     int
}

type fakeI2CCall struct {
	addr  uint16
	want  []byte
	reply []byte
}

func (b *fakeI2CBus) String() string                    { return "fake-i2c" }
func (b *fakeI2CBus) SetSpeed(f physic.Frequency) error { return nil }

func (b *fakeI2CBus) Tx(addr uint16, w, r []byte) error {
	if b.i >= len(b.calls) {
		return errors.New("fakeI2CBus: script exhausted")
	}
	c := b.calls[b.i]
	b.i++
	if c.addr != addr {
		return errors.New("fakeI2CBus: unexpected address")
	}
	if c.want != nil && !bytesEqual(w, c.want) {
		return errors.New("fakeI2CBus: unexpected write")
	}
	copy(r, c.reply)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func initScript() []fakeI2CCall {
	return []fakeI2CCall{
		{addr: bladeAddr, want: []byte{regConfig0, 0x00}},
		{addr: bladeAddr, want: []byte{regConfig1, 0x00}},
		{addr: bladeAddr, want: []byte{regOutput0, 0xff}},
		{addr: bladeAddr, want: []byte{regOutput1, 0xff}},
	}
}

// Select(5) drives active_board=2 and writes 0xff then 0xdf to
// register 0x03.
func TestBladeSelectBoardRouting(t *testing.T) {
	bus := &fakeI2CBus{calls: initScript()}
	blade, err := NewBlade(bus, zerolog.Nop())
	require.NoError(t, err)
	bus.calls = append(bus.calls,
		fakeI2CCall{addr: bladeAddr, want: []byte{regOutput1, 0xff}},
		fakeI2CCall{addr: bladeAddr, want: []byte{regOutput1, 0xdf}},
	)

	require.True(t, blade.Select(5))
	assert.Equal(t, 2, blade.activeBoard)
	blade.Release()
}

func TestBladeSelectSameBoardIsNoOp(t *testing.T) {
	bus := &fakeI2CBus{calls: initScript()}
	blade, err := NewBlade(bus, zerolog.Nop())
	require.NoError(t, err)
	bus.calls = append(bus.calls,
		fakeI2CCall{addr: bladeAddr, want: []byte{regOutput1, 0xff}},
		fakeI2CCall{addr: bladeAddr, want: []byte{regOutput1, 0xdf}},
	)
	require.True(t, blade.Select(4)) // board 4/2 = 2
	blade.Release()
	require.True(t, blade.Select(5)) // also board 2: must not issue further I2C calls
	blade.Release()
	assert.Equal(t, len(bus.calls), bus.i, "same-board select issues no I2C traffic")
}

func TestBladeSelectOutOfRange(t *testing.T) {
	bus := &fakeI2CBus{calls: initScript()}
	blade, err := NewBlade(bus, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, blade.Select(8), "8 is out of range for an 8-chain Blade")
}
