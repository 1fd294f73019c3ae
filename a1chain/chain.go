package a1chain

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"

	"github.com/zefir-k/cgminer/a1proto"
)

// Chain is one SPI-attached daisy chain.
type Chain struct {
	ChainID int
	SPI     spi.Conn
	Log     zerolog.Logger

	mu sync.Mutex

	frame a1proto.Frame

	Chips          []*Chip
	NumChips       int
	NumActiveChips int
	NumCores       int

	ActiveWQ []*a1proto.Work

	Disabled bool

	Temp         int
	LastTempTime time.Time

	RefClk physic.Frequency
	SysClk physic.Frequency

	RangesProcessed int64

	// SubmitNonce reports a found nonce to the host; nil in tests that
	// don't care about acceptance (treated as always-accepted).
	SubmitNonce func(w *a1proto.Work, nonce uint32) bool
	// OnWorkCompleted reports a retired work item's exhausted nonce
	// range back to the host's work-completion callback.
	OnWorkCompleted func(w *a1proto.Work)
	// OnClockChange fires after a successful restart_chip, with the
	// closed window's bad/total counts and the clock transition, so the
	// driver can append its persisted stats record.
	OnClockChange func(chipID int, nok, all uint64, newClk, prevClk physic.Frequency)
}

// String implements conn.Resource.
func (c *Chain) String() string { return "a1chain" }

// Halt implements conn.Resource: release whatever's in flight. The chain
// itself holds no hardware resource beyond the SPI conn the caller owns.
func (c *Chain) Halt() error { return nil }

// Lock/Unlock expose the chain's per-chain mutex: held from
// harvest start to dispatch end in scanwork, and for the entirety of
// FlushWork and QueueFull.
func (c *Chain) Lock()   { c.mu.Lock() }
func (c *Chain) Unlock() { c.mu.Unlock() }

// QueueFull reports whether active_wq already holds 2*num_active_chips
// items; if not, it enqueues work and returns false.
func (c *Chain) QueueFull(w *a1proto.Work) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ActiveWQ) >= 2*c.NumActiveChips {
		return true
	}
	c.ActiveWQ = append(c.ActiveWQ, w)
	return false
}

// dequeue pops the oldest queued work item, or nil if empty. Caller must
// hold the chain mutex.
func (c *Chain) dequeue() *a1proto.Work {
	if len(c.ActiveWQ) == 0 {
		return nil
	}
	w := c.ActiveWQ[0]
	c.ActiveWQ = c.ActiveWQ[1:]
	return w
}

// retireWork clears chip's work slot and reports the retired item to the
// host's work-completion callback, if any.
func (c *Chain) retireWork(chip *Chip, slot int) {
	w := chip.Work[slot]
	chip.Work[slot] = nil
	if w == nil {
		return
	}
	if c.OnWorkCompleted != nil {
		c.OnWorkCompleted(w)
	}
}
