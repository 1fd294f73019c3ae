package a1chain

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/physic"

	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/a1proto/a1testing"
)

// readRegAckWithCores is readRegAck but only the num_cores byte matters
// for these classification tests.
func readRegAckWithCores(chipID int, numCores byte) []byte {
	return readRegAck(chipID, 0, 0, numCores)
}

func lockedPLLExchanges(chipID int, reg [6]byte) []a1testing.Exchange {
	return []a1testing.Exchange{
		{Reply: make([]byte, 16)}, // write_reg write phase
		{Reply: make([]byte, 8)},  // write_reg poll (respLen 0)
		{Reply: make([]byte, 4)},  // read_reg write phase
		{Reply: lockedReadRegPoll(reg)},
	}
}

func TestCheckChipBoundaries(t *testing.T) {
	cases := []struct {
		name         string
		numCores     byte
		wantDisabled bool
		wantCores    int
	}{
		{"broken at 25", 25, true, 0},
		{"weak at 26", 26, false, 26},
		{"normal at 30", 30, false, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var script []a1testing.Exchange
			script = append(script, a1testing.Exchange{Reply: make([]byte, 4)}, a1testing.Exchange{Reply: readRegAckWithCores(1, tc.numCores)})
			if tc.numCores < WeakCoreThreshold {
				reg := GetPLLReg(khz(16000*physic.KiloHertz), khz(replugTargetFor(tc.numCores)))
				script = append(script, lockedPLLExchanges(1, reg)...)
			}
			fc := &a1testing.FakeConn{Script: script}
			c := &Chain{SPI: fc, NumChips: 1, Log: zerolog.Nop(), RefClk: 16000 * physic.KiloHertz, SysClk: 800 * physic.MegaHertz}
			chip := &Chip{ChainID: 0, Index: 0}
			c.checkChip(chip, 0, 0, nil, time.Unix(0, 0))

			assert.Equal(t, tc.wantDisabled, chip.Disabled)
			assert.Equal(t, tc.wantCores, chip.NumCores)
		})
	}
}

func replugTargetFor(numCores byte) physic.Frequency {
	if numCores < BrokenCoreThreshold {
		return BrokenReplugClk
	}
	return WeakReplugClk
}

func TestCheckChipBitmaskBypass(t *testing.T) {
	c := &Chain{NumChips: 1, Log: zerolog.Nop()}
	chip := &Chip{ChainID: 0, Index: 2}
	c.checkChip(chip, 2, 1<<2, nil, time.Unix(0, 0))
	assert.True(t, chip.Disabled, "bitmask-bypassed chip is disabled without SPI traffic")
	assert.Zero(t, chip.NumCores)
}

func TestCheckDisabledChipsReEnablesAfterCooldown(t *testing.T) {
	fc := &a1testing.FakeConn{Script: []a1testing.Exchange{
		{Reply: make([]byte, 4)},
		{Reply: readRegAck(1, 0, 0, 100)},
	}}
	c := &Chain{SPI: fc, NumChips: 1, Log: zerolog.Nop()}
	chip := &Chip{ChainID: 0, Index: 0, NumCores: 100}
	chip.BeginCooldown(time.Unix(0, 0))
	c.Chips = []*Chip{chip}

	c.CheckDisabledChips(time.Unix(0, 0).Add(CooldownMS * time.Millisecond))

	assert.True(t, chip.CooldownBegin.IsZero(), "chip exits cooldown after a successful retry read_reg")
}

func TestCheckDisabledChipsTerminatesAfterThreshold(t *testing.T) {
	c := &Chain{NumChips: 1, Log: zerolog.Nop(), NumCores: 100, NumActiveChips: 1}
	chip := &Chip{ChainID: 0, Index: 0, NumCores: 100, FailCount: DisableChipFailThreshold}
	chip.BeginCooldown(time.Unix(0, 0))
	c.Chips = []*Chip{chip}
	fc := &a1testing.FakeConn{Script: []a1testing.Exchange{{Err: a1proto.ErrTransport}}}
	c.SPI = fc

	c.CheckDisabledChips(time.Unix(0, 0).Add(CooldownMS * time.Millisecond))

	require.True(t, chip.Disabled, "chip is terminally disabled on its 4th failed cooldown retry")
	assert.Zero(t, c.NumCores, "disabled chip's cores subtracted from the chain total")
	assert.Zero(t, c.NumActiveChips)
}
