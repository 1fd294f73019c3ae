package a1chain

import (
	"time"

	"github.com/zefir-k/cgminer/a1proto"
)

// pllLockPollAttempts and pllLockPollInterval bound set_pll_config's wait
// for the lock bit: 25 attempts, 40ms apart, 1s total.
const (
	pllLockPollAttempts  = 25
	pllLockPollInterval  = 40 * time.Millisecond
)

// GetPLLReg implements get_pll_reg(ref_khz, sys_khz): derive the PLL
// feedback/pre/post divider register encoding.
func GetPLLReg(refKHz, sysKHz int) [6]byte {
	g := gcd(refKHz, sysKHz)
	fbDiv := sysKHz / g
	n := refKHz / g

	if fbDiv > 511 {
		var m int
		switch {
		case fbDiv/n < 32:
			m = 16
		case fbDiv/n < 64:
			m = 8
		case fbDiv/n < 128:
			m = 4
		default:
			m = 1
		}
		fbDiv = m * fbDiv / n
		n = m
	}

	var postDiv int
	switch {
	case n%4 == 0:
		postDiv = 3
	case n%2 == 0:
		postDiv = 2
	default:
		postDiv = 1
	}
	preDiv := n / (1 << uint(postDiv-1))
	if preDiv > 31 {
		fbDiv = 31 * fbDiv / preDiv
		preDiv = 31
	}

	var reg [6]byte
	reg[0] = byte(postDiv<<6) | byte(preDiv<<1) | byte(fbDiv>>8)
	reg[1] = byte(fbDiv & 0xff)
	reg[2], reg[3], reg[4], reg[5] = 0x21, 0x84, 0x00, 0x00
	return reg
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// Sleeper abstracts cgsleep_ms for PLL-lock polling so tests can run
// without real delays.
type Sleeper func(time.Duration)

// SetPLLConfig writes the PLL register to chipID (0 = broadcast) and
// polls READ_REG until bit0 of rx[4] (PLL lock) is set and rx[2:3] echo
// the written reg[0:1]. Broadcast writes verify the lock on every chip
// 1..NumChips in turn.
func (c *Chain) SetPLLConfig(chipID int, reg [6]byte, sleep Sleeper) bool {
	if err := c.frame.WriteRegCmd(c.SPI, chipID, reg, c.NumChips); err != nil {
		return false
	}
	targets := []int{chipID}
	if chipID == 0 {
		targets = make([]int, 0, c.NumChips)
		for i := 1; i <= c.NumChips; i++ {
			targets = append(targets, i)
		}
	}
	for _, t := range targets {
		if !c.pollPLLLock(t, reg, sleep) {
			return false
		}
	}
	return true
}

func (c *Chain) pollPLLLock(chipID int, reg [6]byte, sleep Sleeper) bool {
	for attempt := 0; attempt < pllLockPollAttempts; attempt++ {
		rx, err := c.frame.ReadRegCmd(c.SPI, chipID, c.NumChips)
		if err == nil && len(rx) >= a1proto.ReadRegRespLen {
			locked := rx[4]&0x01 != 0
			echoed := rx[2] == reg[0] && rx[3] == reg[1]
			if locked && echoed {
				return true
			}
		}
		if sleep != nil {
			sleep(pllLockPollInterval)
		}
	}
	return false
}
