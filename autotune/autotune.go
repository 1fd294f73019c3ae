// Package autotune implements the per-chip rolling-ratio clock
// controller: a sliding measurement window counts good/bad nonces, and
// once enough samples have accumulated a permille bad-share ratio decides
// whether to raise or lower the chip's PLL clock. This package is pure
// decision logic over injected time — it never touches SPI; the caller
// (a1chain) performs the actual PLL reset/reconfigure and reports the
// outcome back via Commit.
package autotune

import (
	"time"

	"periph.io/x/periph/conn/physic"
)

// NWin is the number of full nonce ranges a measurement window spans.
const NWin = 200

// BadBeforeRatio is how many bad nonces must land in the current window
// before a ratio is even computed for the down-tune check.
const BadBeforeRatio = 5

// MinSamplesForRatio is the minimum total sample count before a ratio is
// considered known; below it Ratio reports ok=false.
const MinSamplesForRatio = 30

// Window is one measurement period for a single chip.
type Window struct {
	SharesOK  uint64
	SharesNOK uint64
	Start     time.Time
	End       time.Time
	SysClk    physic.Frequency
}

// Config carries the tunables a State needs but does not itself own
// (shared across chips, read from the parsed CLI options).
type Config struct {
	LowerRatioPM int // permille
	UpperRatioPM int // permille
	DeltaClk     physic.Frequency
	LowerClk     physic.Frequency
	UpperClk     physic.Frequency
	Enabled      bool
}

// State is the autotune controller's full per-chip state: the current
// window plus the previous window's snapshot, used for the "never uptune
// past the previous peak" hysteresis rule. NumCores is the owning chip's
// live core count, needed to size each new window.
type State struct {
	Cur      Window
	Prev     Window
	NumCores int
}

// NewState starts a fresh window at now, at the given starting clock.
func NewState(now time.Time, numCores int, sysClk physic.Frequency) *State {
	s := &State{NumCores: numCores}
	s.Cur = newWindow(now, numCores, sysClk)
	return s
}

func newWindow(now time.Time, numCores int, sysClk physic.Frequency) Window {
	return Window{Start: now, End: windowEnd(now, numCores, sysClk), SysClk: sysClk}
}

// windowEnd computes the sliding window's expiry: a chip exhausts
// 2^32/num_cores/sys_clk seconds per nonce range per core, and the window
// spans NWin full ranges.
func windowEnd(now time.Time, numCores int, sysClk physic.Frequency) time.Time {
	if numCores <= 0 || sysClk <= 0 {
		return now
	}
	noncesPerSec := float64(numCores) * float64(sysClk/physic.KiloHertz) * 1000 / 4294967296.0
	if noncesPerSec <= 0 {
		return now
	}
	secs := NWin / noncesPerSec
	return now.Add(time.Duration(secs * float64(time.Second)))
}

// Ratio returns the current window's bad-share permille ratio. ok is
// false until at least MinSamplesForRatio samples have landed. This is
// the gate used by the uptune check.
func (w Window) Ratio() (permille int, ok bool) {
	all := w.SharesOK + w.SharesNOK
	if all < MinSamplesForRatio {
		return -1, false
	}
	return rawRatio(w.SharesNOK, all), true
}

func rawRatio(nok, all uint64) int {
	if all == 0 {
		return 0
	}
	return int((nok*1000 + all/2) / all)
}

// GoodNonce records a good (accepted) nonce. It returns a non-zero delta
// when the chip should be uptuned right now.
//
// Peak-stickiness: while the current clock is at or below the previous
// window's clock (the last adjustment was a downtune), a good nonce never
// triggers an uptune, so the chip does not climb back to the clock it was
// just lowered from. With no previous window, or while the current clock
// is above the previous one, the normal uptune check applies.
func (s *State) GoodNonce(now time.Time, cfg Config) (delta physic.Frequency, shouldAdjust bool) {
	s.Cur.SharesOK++
	if s.Prev.SysClk != 0 && s.Cur.SysClk <= s.Prev.SysClk {
		return 0, false
	}
	return s.CheckUptune(now, cfg)
}

// CheckUptune is the standalone form of the uptune decision, used both
// from GoodNonce and from flush_work's pre-check before discarding
// slots. cfg carries LowerRatioPM/Enabled/DeltaClk.
func (s *State) CheckUptune(now time.Time, cfg Config) (delta physic.Frequency, shouldAdjust bool) {
	if !cfg.Enabled {
		return 0, false
	}
	if now.Before(s.Cur.End) {
		return 0, false
	}
	ratio, ok := s.Cur.Ratio()
	if !ok || ratio < 0 {
		return 0, false
	}
	if ratio < cfg.LowerRatioPM {
		return cfg.DeltaClk, true
	}
	return 0, false
}

// BadNonce records a bad (hardware-error) nonce. It returns a non-zero
// negative delta when the chip should be downtuned right now, unless
// already pinned at the floor clock.
//
// Unlike the uptune ratio (which waits for MinSamplesForRatio samples),
// the downtune ratio is gated solely on BadBeforeRatio bad nonces in
// the window; the 30-sample floor does not apply here.
func (s *State) BadNonce(now time.Time, cfg Config) (delta physic.Frequency, shouldAdjust bool) {
	s.Cur.SharesNOK++
	if s.Cur.SharesNOK < BadBeforeRatio {
		return 0, false
	}
	all := s.Cur.SharesOK + s.Cur.SharesNOK
	ratio := rawRatio(s.Cur.SharesNOK, all)
	if ratio > cfg.UpperRatioPM && s.Cur.SysClk > cfg.LowerClk {
		return -cfg.DeltaClk, true
	}
	// Evict old measurements: reset the window in place, keeping the
	// current clock.
	s.Cur = newWindow(now, s.NumCores, s.Cur.SysClk)
	return 0, false
}

// Adjust clamps current+delta into [lower,upper] and reports whether the
// clock actually changes.
func Adjust(current, delta, lower, upper physic.Frequency) (physic.Frequency, bool) {
	next := current + delta
	if next < lower {
		next = lower
	}
	if next > upper {
		next = upper
	}
	if next == current {
		return current, false
	}
	return next, true
}

// Commit is called by a1chain once a clock-adjusting restart_chip has
// actually succeeded: it snapshots the current window into Prev and
// starts a fresh Cur window at the new clock.
func (s *State) Commit(now time.Time, numCores int, newClk physic.Frequency) {
	s.Prev = s.Cur
	s.NumCores = numCores
	s.Cur = newWindow(now, numCores, newClk)
}
