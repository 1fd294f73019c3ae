// Package a1chain implements the chain lifecycle (detect/BIST/PLL/health)
// and the per-chip job pipeline for a daisy-chained A1 ASIC chain. Chains
// and chips are conn.Resource (String()/Halt()), and the chain owns its
// chips the way a periph bus owns its pins: chips carry a non-owning
// (chainID, index) back-reference rather than a pointer cycle.
package a1chain

import (
	"time"

	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/autotune"
)

// DisableChipFailThreshold is how many failed cooldown retries a chip
// tolerates before it is terminally disabled.
const DisableChipFailThreshold = 3

// CooldownMS is how long a chip stays in cooldown before a re-enable
// attempt, in milliseconds.
const CooldownMS = 30000

// Chip is one ASIC in a chain. ChainID/Index form the non-owning
// back-reference to the owning Chain; the Chain is the sole owner of its
// Chips slice.
type Chip struct {
	ChainID int
	Index   int // 0-based; ChipID() is Index+1

	NumCores int

	Work         [4]*a1proto.Work
	LastQueuedID int // 0..3, next slot to write

	HWErrors        uint64
	Stales          uint64
	NoncesFound     uint64
	RangesDone      uint64
	CooldownBegin   time.Time // zero = not cooling down
	FailCount       int
	Disabled        bool

	AT *autotune.State
}

// ChipID is the 1-based chain position.
func (c *Chip) ChipID() int { return c.Index + 1 }

// String implements conn.Resource.
func (c *Chip) String() string { return "a1chip" }

// Halt implements conn.Resource: a chip has no independent halt action
// beyond the chain's own Halt.
func (c *Chip) Halt() error { return nil }

// Reachable reports whether the chip can currently be addressed: not
// terminally disabled and not presently cooling down.
func (c *Chip) Reachable() bool {
	return !c.Disabled && c.CooldownBegin.IsZero()
}

// BeginCooldown marks the chip as temporarily unreachable after an SPI
// failure.
func (c *Chip) BeginCooldown(now time.Time) {
	c.CooldownBegin = now
}

// DisableChip is disable_chip: any SPI op on the chip failing puts it
// into cooldown (temporary), not the terminal Disabled state.
func (c *Chip) DisableChip(now time.Time) {
	c.BeginCooldown(now)
}

// EndCooldown clears the cooldown marker (a successful retry READ_REG).
func (c *Chip) EndCooldown() {
	c.CooldownBegin = time.Time{}
	c.FailCount = 0
}

// RetryOrDisable is called when a cooldown retry's READ_REG failed: it
// bumps FailCount and, past DisableChipFailThreshold, terminally disables
// the chip, returning the core count to subtract from the chain total.
// Otherwise the cooldown timer restarts from now so the chip is retried
// again in another CooldownMS rather than on every subsequent tick.
func (c *Chip) RetryOrDisable(now time.Time) (coresLost int, disabledNow bool) {
	c.FailCount++
	if c.FailCount > DisableChipFailThreshold {
		c.Disabled = true
		lost := c.NumCores
		c.NumCores = 0
		return lost, true
	}
	c.CooldownBegin = now
	return 0, false
}
