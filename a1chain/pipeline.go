package a1chain

import (
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/autotune"
)

// jobIDInBusyRange reports whether jobID (1..4) falls within the
// inclusive [low,high] busy range reported in queue_states (rx[6]),
// wrapping through the 1..4 cycle when low > high. low==0 or high==0
// means nothing is reported busy.
func jobIDInBusyRange(low, high, jobID byte) bool {
	if low == 0 || high == 0 {
		return false
	}
	lo, hi, jid := int(low), int(high), int(jobID)
	if lo <= hi {
		return jid >= lo && jid <= hi
	}
	return jid >= lo || jid <= hi
}

// SetWork is set_work: writes work into chip's next job
// slot. Returns true when a previously-queued work item occupied that
// slot and was retired (a completed nonce range), the signal the scan
// loop uses to credit nonce_ranges_done/nonce_ranges_processed.
func (c *Chain) SetWork(chip *Chip, work *a1proto.Work, queueStates byte) (retired bool) {
	slot := chip.LastQueuedID
	jobID := byte(slot + 1)

	lowBusy := queueStates & 0x0f
	highBusy := queueStates >> 4
	if jobIDInBusyRange(lowBusy, highBusy, jobID) {
		c.Log.Warn().Int("chip", chip.ChipID()).Int("job_id", int(jobID)).
			Msg("a1chain: set_work slot overlaps a busy queue state")
	}

	if chip.Work[slot] != nil {
		c.retireWork(chip, slot)
		retired = true
	}

	if err := c.frame.WriteJob(c.SPI, chip.ChipID(), int(jobID), work, c.NumChips); err != nil {
		if c.OnWorkCompleted != nil {
			c.OnWorkCompleted(work)
		}
		chip.DisableChip(time.Now())
		return false
	}

	chip.Work[slot] = work
	chip.LastQueuedID = (slot + 1) & 3
	return retired
}

// GetNonce is the host-facing half of get_nonce: read one result off
// the broadcast result queue, validating job_id and chip_id bounds.
func (c *Chain) GetNonce() (res a1proto.Result, ok bool, err error) {
	res, found, err := c.frame.ReadResultBcast(c.SPI, c.NumChips)
	if err != nil {
		return a1proto.Result{}, false, err
	}
	if !found {
		return a1proto.Result{}, false, nil
	}
	if res.JobID < 1 || res.JobID > 4 {
		if ferr := a1proto.FlushSPI(c.SPI); ferr != nil {
			c.Log.Error().Err(ferr).Msg("a1chain: flush_spi after bad job_id failed")
		}
		return a1proto.Result{}, false, nil
	}
	if res.ChipID < 1 || res.ChipID > c.NumActiveChips {
		return a1proto.Result{}, false, nil
	}
	return res, true, nil
}

// HarvestOnce performs one get_nonce + submit/stale/autotune cycle,
// reporting whether a result was consumed; the scan loop's harvest
// phase calls this until it returns false.
func (c *Chain) HarvestOnce(now time.Time, cfg autotune.Config) bool {
	res, found, err := c.GetNonce()
	if err != nil {
		c.Log.Error().Err(err).Msg("a1chain: get_nonce failed")
		return false
	}
	if !found {
		return false
	}
	if res.ChipID > len(c.Chips) {
		return true
	}
	chip := c.Chips[res.ChipID-1]
	w := chip.Work[res.JobID-1]
	if w == nil {
		chip.Stales++
		return true
	}

	accepted := true
	if c.SubmitNonce != nil {
		accepted = c.SubmitNonce(w, res.Nonce)
	}

	if !accepted {
		chip.HWErrors++
		c.RangesProcessed -= int64(w.DeviceDiff)
		if delta, adjust := chip.AT.BadNonce(now, cfg); adjust {
			c.restartChip(chip, now, delta, cfg)
		}
		return true
	}

	chip.NoncesFound++
	if delta, adjust := chip.AT.GoodNonce(now, cfg); adjust {
		c.restartChip(chip, now, delta, cfg)
	}
	return true
}

// restartChip is adjust_clock+restart_chip: reset the chip, flush its
// queue, re-lock the PLL at the adjusted clock, and commit the new
// window into its autotune state. A failed reset or PLL lock disables
// the chip rather than leaving it in an inconsistent clock state.
func (c *Chain) restartChip(chip *Chip, now time.Time, delta physic.Frequency, cfg autotune.Config) {
	newClk, changed := autotune.Adjust(chip.AT.Cur.SysClk, delta, cfg.LowerClk, cfg.UpperClk)
	if !changed {
		return
	}
	if err := c.frame.ResetCmd(c.SPI, chip.ChipID(), a1proto.ResetStrategy, c.NumChips); err != nil {
		c.Log.Error().Err(err).Int("chip", chip.ChipID()).Msg("a1chain: restart_chip reset failed")
		chip.DisableChip(now)
		return
	}
	c.flushChip(chip)

	reg := GetPLLReg(khz(c.RefClk), khz(newClk))
	if !c.SetPLLConfig(chip.ChipID(), reg, nil) {
		c.Log.Error().Int("chip", chip.ChipID()).Msg("a1chain: restart_chip pll lock failed")
		chip.DisableChip(now)
		return
	}

	nok := chip.AT.Cur.SharesNOK
	all := chip.AT.Cur.SharesOK + nok
	prevClk := chip.AT.Cur.SysClk
	chip.AT.Commit(now, chip.NumCores, newClk)
	if c.OnClockChange != nil {
		c.OnClockChange(chip.ChipID(), nok, all, newClk, prevClk)
	}
	c.Log.Info().Int("chip", chip.ChipID()).Str("new_clk", newClk.String()).Msg("a1chain: chip clock adjusted")
}

// flushChip retires every queued slot (work_completed for each non-null
// entry) and resets the chip's job-id cursor, per flush_chip.
func (c *Chain) flushChip(chip *Chip) {
	for i := range chip.Work {
		if chip.Work[i] != nil {
			c.retireWork(chip, i)
		}
	}
	chip.LastQueuedID = 0
}

// AbortWork is abort_work: a broadcast RESET with the abort strategy
// byte, discarding every chip's in-flight job queue.
func (c *Chain) AbortWork() error {
	return c.frame.ResetCmd(c.SPI, 0, a1proto.ResetStrategy, c.NumChips)
}

// FlushWork is flush_work: abort_work, then per chip prefer
// an autotune restart (which already resets the chip and flushes its
// slots) over a plain flush_chip, then drain the active work queue. Caller must already
// hold the board-selector lock (select/release brackets this);
// FlushWork itself takes the chain's own inner mutex.
func (c *Chain) FlushWork(now time.Time, cfg autotune.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.AbortWork(); err != nil {
		return err
	}
	for _, chip := range c.Chips {
		if chip.AT == nil {
			continue
		}
		if delta, adjust := chip.AT.CheckUptune(now, cfg); adjust {
			c.restartChip(chip, now, delta, cfg)
			continue
		}
		c.flushChip(chip)
	}
	c.ActiveWQ = c.ActiveWQ[:0]
	return nil
}

// DispatchChip runs the scan state machine for one chip:
// qstate 3 is full (skip), 2 is invalid (log and skip), 0 dequeues and
// dispatches twice (both front slots are free), 1 dispatches once.
func (c *Chain) DispatchChip(chip *Chip, now time.Time) {
	if chip.Disabled || !chip.CooldownBegin.IsZero() {
		return
	}
	rx, err := c.frame.ReadRegCmd(c.SPI, chip.ChipID(), c.NumChips)
	if err != nil {
		chip.DisableChip(now)
		return
	}
	qstate := rx[5] & 3
	queueStates := rx[6]

	switch qstate {
	case 3:
		return
	case 2:
		c.Log.Warn().Int("chip", chip.ChipID()).Msg("a1chain: invalid qstate")
		return
	case 0:
		// Both front slots free: dispatch twice (the case-1 body runs
		// as part of case 0).
		c.dispatchOne(chip, queueStates)
		c.dispatchOne(chip, queueStates)
	case 1:
		c.dispatchOne(chip, queueStates)
	}
}

// dispatchOne dequeues one work item (if any is queued) and set_works
// it into chip, crediting a completed range when a slot rolls over.
func (c *Chain) dispatchOne(chip *Chip, queueStates byte) {
	w := c.dequeue()
	if w == nil {
		return
	}
	if c.SetWork(chip, w, queueStates) {
		chip.RangesDone++
		c.RangesProcessed++
	}
}
