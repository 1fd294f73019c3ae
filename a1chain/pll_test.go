package a1chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/a1proto/a1testing"
)

func TestGetPLLReg(t *testing.T) {
	// ref=16MHz, sys=800MHz gives fb_div=50, pre_div=1, post_div=1:
	// reg[0] = (1<<6)|(1<<1)|0 = 0x42, reg[1] = 50 = 0x32.
	reg := GetPLLReg(16000, 800000)
	assert.Equal(t, byte(0x42), reg[0])
	assert.Equal(t, byte(0x32), reg[1])
}

// lockedReadRegPoll builds the 10-byte poll reply ReadRegCmd(chipID=1,
// numChips=4) expects: ack occupies the trailing 8 bytes, with the lock
// bit set and the register echoed.
func lockedReadRegPoll(reg [6]byte) []byte {
	poll := make([]byte, 10)
	poll[2] = a1proto.ReadRegResp
	poll[3] = 1
	poll[4] = reg[0]
	poll[5] = reg[1]
	poll[6] = 0x01 // lock bit
	return poll
}

func TestSetPLLConfigUnicastLocksOnFirstPoll(t *testing.T) {
	reg := GetPLLReg(16000, 800000)
	writeTx := []byte{a1proto.WriteReg, 1, reg[0], reg[1], reg[2], reg[3], reg[4], reg[5], 0, 0}
	readTx := []byte{a1proto.ReadReg, 1, 0, 0}

	fc := &a1testing.FakeConn{Script: []a1testing.Exchange{
		{Want: writeTx, Reply: make([]byte, 10)},
		{Reply: make([]byte, 2)}, // write-reg poll (respLen 0)
		{Want: readTx, Reply: make([]byte, 4)},
		{Reply: lockedReadRegPoll(reg)},
	}}

	c := &Chain{SPI: fc, NumChips: 4}
	require.True(t, c.SetPLLConfig(1, reg, nil), "expected lock on first poll")
}

func TestSetPLLConfigGivesUpAfterAttempts(t *testing.T) {
	reg := GetPLLReg(16000, 800000)
	script := []a1testing.Exchange{
		{Reply: make([]byte, 10)},
		{Reply: make([]byte, 2)},
	}
	for i := 0; i < pllLockPollAttempts; i++ {
		script = append(script,
			a1testing.Exchange{Reply: make([]byte, 4)},
			a1testing.Exchange{Reply: make([]byte, 10)}, // never locks
		)
	}
	fc := &a1testing.FakeConn{Script: script}
	c := &Chain{SPI: fc, NumChips: 4}

	slept := 0
	require.False(t, c.SetPLLConfig(1, reg, func(time.Duration) { slept++ }), "expected lock poll to give up")
	assert.Equal(t, pllLockPollAttempts, slept)
}
