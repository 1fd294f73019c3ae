package a1chain

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/autotune"
)

// initialPLLReg is the low-speed broadcast bring-up register (~200MHz
// from a 16MHz reference) written before BIST_START.
var initialPLLReg = [6]byte{0x82, 0x19, 0x21, 0x84, 0x00, 0x00}

// WeakCoreThreshold and BrokenCoreThreshold are check_chip's core-count
// classification boundaries.
const (
	BrokenCoreThreshold = 26 // num_cores < 26 => broken
	WeakCoreThreshold   = 30 // num_cores < 30 => weak
)

// BrokenReplugClk and WeakReplugClk are the clocks check_chip re-PLLs a
// broken/weak chip to.
const (
	BrokenReplugClk = 400 * physic.MegaHertz
	WeakReplugClk   = 600 * physic.MegaHertz
)

// InitOptions carries the per-chain bring-up parameters, sourced from
// the parsed CLI option string.
type InitOptions struct {
	RefClk      physic.Frequency
	SysClk      physic.Frequency
	SPIClk      physic.Frequency
	ChipNum     int    // 0 = use every detected chip; >0 caps active chips for testing
	ChipBitmask uint64 // bit i set => chip i is bypassed
	Wiper       byte   // 0 = no voltage-trim override

	// VoltageTrim, when non-nil, is called once before the PLL sweep if
	// Wiper != 0, so the board voltage is settled before any chip is
	// clocked up.
	VoltageTrim func(chainID int, wiper byte) bool

	// ReconfigureSPI switches the concrete transport's clock once the
	// target sys_clk has locked. a1chain never touches SPI speed itself
	// (the core only holds a conn/spi.Conn), so this is the caller's
	// (driver's chain registration) hook into the concrete spi.Port.
	ReconfigureSPI func(physic.Frequency) error

	Sleep Sleeper
}

// InitChain runs full chain bring-up: detect, voltage trim, the initial
// low-speed PLL bring-up, BIST_START, the target PLL sweep, the SPI
// speed switch, BIST_FIX, then per-chip health classification
// (check_chip).
func (c *Chain) InitChain(opts InitOptions) error {
	n, err := a1proto.DetectChain(c.SPI)
	if err != nil {
		return err
	}
	if n == 0 {
		return a1proto.ErrNoChips
	}
	c.NumChips = n
	c.RefClk = opts.RefClk
	c.Chips = make([]*Chip, n)
	for i := range c.Chips {
		c.Chips[i] = &Chip{ChainID: c.ChainID, Index: i}
	}

	if opts.Wiper != 0 && opts.VoltageTrim != nil {
		if !opts.VoltageTrim(c.ChainID, opts.Wiper) {
			c.Log.Warn().Int("chain", c.ChainID).Msg("a1chain: voltage trim write failed")
		}
	}

	if !c.SetPLLConfig(0, initialPLLReg, opts.Sleep) {
		return fmt.Errorf("a1chain: initial pll bring-up: %w", a1proto.ErrPLLLockTimeout)
	}

	if err := c.frame.BistStartCmd(c.SPI, c.NumChips); err != nil {
		return fmt.Errorf("a1chain: bist_start: %w", err)
	}

	targetReg := GetPLLReg(khz(opts.RefClk), khz(opts.SysClk))
	if !c.SetPLLConfig(0, targetReg, opts.Sleep) {
		return fmt.Errorf("a1chain: target pll: %w", a1proto.ErrPLLLockTimeout)
	}
	c.SysClk = opts.SysClk

	if opts.ReconfigureSPI != nil {
		if err := opts.ReconfigureSPI(opts.SPIClk); err != nil {
			return fmt.Errorf("a1chain: spi speed switch: %w", err)
		}
	}

	if err := c.frame.BistFixCmd(c.SPI, c.NumChips); err != nil {
		return fmt.Errorf("a1chain: bist_fix: %w", err)
	}

	now := time.Now()
	for i, chip := range c.Chips {
		if opts.ChipNum > 0 && i >= opts.ChipNum {
			// Active-chip cap for testing: chips past the cap are left
			// out of the sweep entirely, same as a bitmask bypass.
			chip.Disabled = true
			continue
		}
		c.checkChip(chip, i, opts.ChipBitmask, opts.Sleep, now)
	}
	return nil
}

func khz(f physic.Frequency) int { return int(f / physic.KiloHertz) }

// checkChip classifies chip i: a chip_bitmask bit bypasses
// it outright; otherwise its reported core count sorts it into
// broken/weak/normal, accumulating accepted cores and active-chip count
// into the chain totals.
func (c *Chain) checkChip(chip *Chip, i int, bitmask uint64, sleep Sleeper, now time.Time) {
	if bitmask&(1<<uint(i)) != 0 {
		chip.NumCores = 0
		chip.Disabled = true
		return
	}

	rx, err := c.frame.ReadRegCmd(c.SPI, chip.ChipID(), c.NumChips)
	if err != nil {
		c.Log.Error().Err(err).Int("chip", chip.ChipID()).Msg("a1chain: check_chip read_reg failed")
		chip.BeginCooldown(now)
		return
	}
	numCores := int(rx[7])

	switch {
	case numCores < BrokenCoreThreshold:
		reg := GetPLLReg(khz(c.RefClk), khz(BrokenReplugClk))
		c.SetPLLConfig(chip.ChipID(), reg, sleep)
		chip.NumCores = 0
		chip.Disabled = true
		c.Log.Warn().Int("chip", chip.ChipID()).Int("cores", numCores).Msg("a1chain: chip broken, disabled")
		return
	case numCores < WeakCoreThreshold:
		reg := GetPLLReg(khz(c.RefClk), khz(WeakReplugClk))
		c.SetPLLConfig(chip.ChipID(), reg, sleep)
		chip.NumCores = numCores
		c.Log.Info().Int("chip", chip.ChipID()).Int("cores", numCores).Msg("a1chain: chip weak, re-plugged")
	default:
		chip.NumCores = numCores
	}

	chip.AT = autotune.NewState(now, chip.NumCores, c.SysClk)
	c.NumCores += chip.NumCores
	c.NumActiveChips++
}

// CheckDisabledChips implements the cooldown/re-enable state machine:
// a chip in cooldown is retried once CooldownMS has
// elapsed; a failed retry bumps fail_count towards terminal disable.
func (c *Chain) CheckDisabledChips(now time.Time) {
	for _, chip := range c.Chips {
		if chip.Disabled || chip.CooldownBegin.IsZero() {
			continue
		}
		if now.Before(chip.CooldownBegin.Add(CooldownMS * time.Millisecond)) {
			continue
		}
		if _, err := c.frame.ReadRegCmd(c.SPI, chip.ChipID(), c.NumChips); err != nil {
			lost, disabledNow := chip.RetryOrDisable(now)
			if disabledNow {
				c.NumCores -= lost
				c.NumActiveChips--
				c.Log.Warn().Int("chip", chip.ChipID()).Msg("a1chain: chip terminally disabled")
			}
			continue
		}
		chip.EndCooldown()
	}
}
