package driver

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"

	"github.com/zefir-k/cgminer/a1chain"
	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/autotune"
	"github.com/zefir-k/cgminer/boardsel"
)

// ThermalThrottleTemp is the temperature (°C) past which scanwork sleeps
// ThermalThrottleSleep instead of dispatching.
const ThermalThrottleTemp = 95

const (
	ThermalThrottleSleep = 5 * time.Second
	IdleSleep            = 120 * time.Millisecond
	TempRefreshInterval  = 2 * time.Second
)

// Device is the host driver contract: the six operations the host
// framework calls on a registered A1 device.
type Device struct {
	Ctx *Context

	// GetQueued pulls the next work item for chainID from the host's
	// work source (get_queued). nil means none is currently available.
	GetQueued func(chainID int) *a1proto.Work
	// SubmitNonce reports a found nonce upward; nil accepts every nonce
	// (used by tests that don't care about acceptance).
	SubmitNonce func(w *a1proto.Work, nonce uint32) bool
	// WorkCompleted reports a retired work item's exhausted nonce range.
	WorkCompleted func(w *a1proto.Work)

	// Sleep lets tests intercept scanwork's blocking waits.
	Sleep func(time.Duration)

	// WorkRestart reports the host's per-chain work_restart flag; when it
	// returns true, ScanWork skips that chain's tick (and aborts a
	// dispatch already in flight) so FlushWork can run. nil means the
	// host never requests restarts.
	WorkRestart func(chainID int) bool
}

func (d *Device) restartRequested(chainID int) bool {
	return d.WorkRestart != nil && d.WorkRestart(chainID)
}

func (d *Device) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

// Detect is detect(hotplug): a hotplug rescan is a no-op (hot-plug is
// explicitly out of scope); a cold probe walks boardsel's discovery order
// to find a selector, then registers one a1chain.Chain per board the
// selector reports reachable, routing odd boards to SPIPorts[1] the way
// Blade wires its second SPI bus.
func (d *Device) Detect(hotplug bool) error {
	if hotplug {
		return nil
	}
	ctx := d.Ctx

	sel, err := boardsel.Probe(ctx.I2CBus, ctx.Log)
	if err != nil {
		return fmt.Errorf("driver: detect: board selector probe: %w", err)
	}
	ctx.Sel = sel

	registered := 0
	for board := 0; board < MaxBoards; board++ {
		if !sel.Select(board) {
			break
		}
		chain, err := d.registerChain(board, ctx.SPIPorts[board%2])
		sel.Release()
		if err != nil {
			ctx.Log.Warn().Int("board", board).Err(err).Msg("driver: chain registration failed, skipping")
			continue
		}
		ctx.withChains(func() { ctx.Chains = append(ctx.Chains, chain) })
		registered++
	}

	if registered == 0 {
		ctx.Sel = nil
		if ctx.SPIPorts[0] != nil {
			_ = ctx.SPIPorts[0].Close()
		}
		if ctx.SPIPorts[1] != nil && ctx.SPIPorts[1] != ctx.SPIPorts[0] {
			_ = ctx.SPIPorts[1].Close()
		}
		return fmt.Errorf("driver: detect: no chains registered")
	}
	return nil
}

func (d *Device) registerChain(board int, port spi.PortCloser) (*Chain, error) {
	ctx := d.Ctx
	if port == nil {
		return nil, fmt.Errorf("no SPI port assigned to board %d", board)
	}
	// Bring-up runs at 100kHz; InitChain switches to the configured clock
	// through ReconfigureSPI once the target PLL has locked.
	conn, err := port.Connect(100*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("spi connect: %w", err)
	}

	core := &a1chain.Chain{ChainID: board, SPI: conn, Log: ctx.Log}
	core.SubmitNonce = func(w *a1proto.Work, nonce uint32) bool {
		if d.SubmitNonce == nil {
			return true
		}
		return d.SubmitNonce(w, nonce)
	}
	core.OnWorkCompleted = func(w *a1proto.Work) {
		if d.WorkCompleted != nil {
			d.WorkCompleted(w)
		}
	}
	core.OnClockChange = func(chipID int, nok, all uint64, newClk, prevClk physic.Frequency) {
		ctx.LogClockChange(time.Now(), board, chipID, nok, all, newClk, prevClk)
	}

	err = core.InitChain(a1chain.InitOptions{
		RefClk:      ctx.Opts.RefClk,
		SysClk:      ctx.Opts.ClkForBoard(board),
		SPIClk:      ctx.Opts.SPIClkForBoard(board),
		ChipNum:     ctx.Opts.ChipNum,
		ChipBitmask: ctx.Opts.ChipMaskForBoard(board),
		Wiper:       ctx.Opts.WiperForBoard(board),
		VoltageTrim: func(chainID int, wiper byte) bool { return ctx.Sel.SetWiper(chainID, wiper) },
		ReconfigureSPI: func(hz physic.Frequency) error {
			newConn, err := port.Connect(hz, spi.Mode0, 8)
			if err != nil {
				return err
			}
			core.SPI = newConn
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	return &Chain{Core: core, Board: board, Port: port, AutotuneCfg: defaultAutotuneCfg()}, nil
}

func defaultAutotuneCfg() autotune.Config {
	return autotune.Config{
		LowerRatioPM: 3,
		UpperRatioPM: 20,
		DeltaClk:     4000 * physic.KiloHertz,
		LowerClk:     400 * physic.MegaHertz,
		UpperClk:     1100 * physic.MegaHertz,
		Enabled:      true,
	}
}

// QueueFull is queue_full(cgpu): pulls one work item from the host and
// tries to enqueue it, reporting true (without pulling) once the chain's
// queue already holds 2*num_active_chips items. A configured
// override_diff is stamped onto the work item here, so every WRITE_JOB
// downstream encodes the overridden target instead of the work's nbits.
func (d *Device) QueueFull(ch *Chain) bool {
	if d.GetQueued == nil {
		return true
	}
	ch.Core.Lock()
	full := len(ch.Core.ActiveWQ) >= 2*ch.Core.NumActiveChips
	ch.Core.Unlock()
	if full {
		return true
	}
	w := d.GetQueued(ch.Core.ChainID)
	if w == nil {
		return true
	}
	if d.Ctx != nil && d.Ctx.Opts.OverrideDiff != 0 {
		w.DeviceDiff = d.Ctx.Opts.OverrideDiff
		w.OverrideDiff = true
	}
	return ch.Core.QueueFull(w)
}

// FlushWork is flush_work(cgpu): selects the chain's board, then defers
// to a1chain's FlushWork (which takes the chain's own inner lock),
// keeping the selector as the outer lock.
func (d *Device) FlushWork(ch *Chain) error {
	ctx := d.Ctx
	if ctx.Sel == nil || !ctx.Sel.Select(ch.Board) {
		return fmt.Errorf("driver: flush_work: board %d unreachable", ch.Board)
	}
	defer ctx.Sel.Release()
	return ch.Core.FlushWork(time.Now(), ch.AutotuneCfg)
}

// ScanWork is scanwork(thr) -> int64: for every registered chain,
// select its board, harvest completed nonces, refresh temperature
// (sleeping through a thermal-throttle window if overheated), dispatch
// new work in reverse (closest-to-host-last) chip order, then check for
// chips due a cooldown retry — all under the board-selector lock as the
// outer lock and the chain's own lock as the inner one. Returns the
// hashes credited since the previous call, summed across all chains.
func (d *Device) ScanWork(now time.Time) int64 {
	ctx := d.Ctx
	var credited int64
	idle := true

	for _, ch := range ctx.Chains {
		if ch.Core.NumCores == 0 {
			ch.Core.Disabled = true
			continue
		}
		if d.restartRequested(ch.Core.ChainID) {
			continue
		}
		if ctx.Sel != nil && !ctx.Sel.Select(ch.Board) {
			continue
		}
		ch.Core.Lock()

		for ch.Core.HarvestOnce(now, ch.AutotuneCfg) {
			idle = false
		}

		if ctx.Sel != nil && now.Sub(ch.Core.LastTempTime) >= TempRefreshInterval {
			ch.Core.Temp = ctx.Sel.GetTemp(ch.Core.ChainID)
			ch.Core.LastTempTime = now
		}

		if ch.Core.Temp >= ThermalThrottleTemp {
			// Overheated: skip the dispatch phase and sit out the throttle
			// window before releasing the bus.
			d.sleep(ThermalThrottleSleep)
		} else {
			for i := len(ch.Core.Chips) - 1; i >= 0; i-- {
				// A work_restart arriving mid-dispatch aborts the rest of
				// the sweep; both locks still unwind below.
				if d.restartRequested(ch.Core.ChainID) {
					break
				}
				ch.Core.DispatchChip(ch.Core.Chips[i], now)
			}
		}

		ch.Core.CheckDisabledChips(now)
		n := ch.Core.RangesProcessed
		ch.Core.RangesProcessed = 0
		if n < 0 {
			ctx.Log.Warn().Int("chain", ch.Core.ChainID).Int64("ranges", n).
				Msg("driver: negative nonce-range credit dropped")
			n = 0
		}
		credited += n << 32

		ch.Core.Unlock()
		if ctx.Sel != nil {
			ctx.Sel.Release()
		}
	}

	if idle {
		d.sleep(IdleSleep)
	}
	return credited
}

// GetStatlineBefore is get_statline_before(buf, cgpu): formats
// " CC:AA/TTT  TT°C".
func GetStatlineBefore(ch *Chain) string {
	return fmt.Sprintf(" %2d:%2d/%3d  %2d°C",
		ch.Core.ChainID, ch.Core.NumActiveChips, ch.Core.NumCores, ch.Core.Temp)
}

// ThreadShutdown is thread_shutdown(thr): releases every SPI port and
// drops the stats file handle (the caller owns closing the underlying
// io.Writer/*os.File; driver just stops writing to it).
func (d *Device) ThreadShutdown() {
	ctx := d.Ctx
	for _, ch := range ctx.Chains {
		if ch.Port != nil {
			_ = ch.Port.Close()
		}
	}
	if ctx.Sel != nil {
		ctx.Sel.Exit()
	}
	ctx.stats = nil
}
