package driver

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefir-k/cgminer/a1chain"
	"github.com/zefir-k/cgminer/a1proto"
	"github.com/zefir-k/cgminer/a1proto/a1testing"
	"github.com/zefir-k/cgminer/autotune"
	"github.com/zefir-k/cgminer/boardsel"
)

// emptyResultScript scripts one ReadResultBcast round trip (8-byte
// prelude write + 8+4*numChips poll) that finds nothing, so HarvestOnce
// reports the queue empty on its very first call.
func emptyResultScript(numChips int) []a1testing.Exchange {
	return []a1testing.Exchange{
		{},
		{Reply: make([]byte, 8+4*numChips)},
	}
}

// newTestChain builds a one-chip chain with a single terminally-disabled
// chip, so DispatchChip/CheckDisabledChips are no-ops and only the
// harvest phase's SPI traffic needs scripting.
func newTestChain(chainID int, conn *a1testing.FakeConn) *a1chain.Chain {
	return &a1chain.Chain{
		ChainID:        chainID,
		SPI:            conn,
		Log:            zerolog.Nop(),
		NumChips:       1,
		NumActiveChips: 1,
		NumCores:       30,
		Chips:          []*a1chain.Chip{{ChainID: chainID, Index: 0, NumCores: 30, Disabled: true}},
	}
}

func testAutotuneCfg() autotune.Config {
	return autotune.Config{LowerRatioPM: 3, UpperRatioPM: 20}
}

func TestQueueFullEnqueuesUntilFull(t *testing.T) {
	core := newTestChain(0, &a1testing.FakeConn{})
	ch := &Chain{Core: core, Board: 0, AutotuneCfg: testAutotuneCfg()}

	var got []*a1proto.Work
	d := &Device{GetQueued: func(chainID int) *a1proto.Work {
		if len(got) >= 4 {
			return nil
		}
		w := &a1proto.Work{}
		got = append(got, w)
		return w
	}}

	// NumActiveChips = 1 => queue_full at 2 items.
	assert.False(t, d.QueueFull(ch), "first call: queue has room")
	assert.False(t, d.QueueFull(ch), "second call: queue now exactly full")
	assert.True(t, d.QueueFull(ch), "third call: 2*num_active_chips reached")
}

func TestQueueFullNoHostSourceReportsFull(t *testing.T) {
	d := &Device{}
	ch := &Chain{Core: newTestChain(0, &a1testing.FakeConn{})}
	assert.True(t, d.QueueFull(ch), "nil GetQueued reports full")
}

func TestScanWorkHarvestsThenSleepsWhenIdle(t *testing.T) {
	conn := &a1testing.FakeConn{Script: emptyResultScript(1)}
	core := newTestChain(0, conn)
	ch := &Chain{Core: core, Board: 0, AutotuneCfg: testAutotuneCfg()}

	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	ctx.Sel = &boardsel.Dummy{}
	ctx.Chains = []*Chain{ch}

	var slept time.Duration
	d := &Device{Ctx: ctx, Sleep: func(dur time.Duration) { slept = dur }}

	credited := d.ScanWork(time.Now())
	assert.Zero(t, credited, "no ranges processed")
	assert.Equal(t, IdleSleep, slept, "an empty harvest with a disabled-only chip is an idle tick")
}

func TestScanWorkSkipsChainOnWorkRestart(t *testing.T) {
	conn := &a1testing.FakeConn{} // any SPI traffic would exhaust the empty script
	core := newTestChain(0, conn)
	ch := &Chain{Core: core, Board: 0, AutotuneCfg: testAutotuneCfg()}

	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	ctx.Sel = &boardsel.Dummy{}
	ctx.Chains = []*Chain{ch}

	d := &Device{Ctx: ctx, Sleep: func(time.Duration) {}, WorkRestart: func(int) bool { return true }}

	assert.Zero(t, d.ScanWork(time.Now()), "no credit during a restart tick")
	assert.Empty(t, conn.Log, "a restart tick must not touch the SPI bus")
}

func TestScanWorkDisablesZeroCoreChain(t *testing.T) {
	core := newTestChain(0, &a1testing.FakeConn{})
	core.NumCores = 0
	ch := &Chain{Core: core, AutotuneCfg: testAutotuneCfg()}

	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	ctx.Chains = []*Chain{ch}
	d := &Device{Ctx: ctx, Sleep: func(time.Duration) {}}

	d.ScanWork(time.Now())
	assert.True(t, core.Disabled, "a chain with 0 cores is marked disabled")
}

func TestScanWorkClampsNegativeCreditAndResetsCounter(t *testing.T) {
	conn := &a1testing.FakeConn{Script: emptyResultScript(1)}
	core := newTestChain(0, conn)
	core.RangesProcessed = -3 // accumulated rejected-nonce penalties
	ch := &Chain{Core: core, AutotuneCfg: testAutotuneCfg()}

	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	ctx.Sel = &boardsel.Dummy{}
	ctx.Chains = []*Chain{ch}
	d := &Device{Ctx: ctx, Sleep: func(time.Duration) {}}

	assert.Zero(t, d.ScanWork(time.Now()), "negative ranges are dropped")
	assert.Zero(t, core.RangesProcessed, "counter reset after the tick")
}

func TestQueueFullStampsOverrideDiff(t *testing.T) {
	core := newTestChain(0, &a1testing.FakeConn{})
	ch := &Chain{Core: core}

	opts := DefaultOptions()
	opts.OverrideDiff = 64
	ctx := NewContext(opts, zerolog.Nop(), nil)

	w := &a1proto.Work{NBits: 0x1d00ffff}
	d := &Device{Ctx: ctx, GetQueued: func(int) *a1proto.Work { return w }}
	d.QueueFull(ch)

	require.True(t, w.OverrideDiff, "work stamped with the configured override")
	assert.Equal(t, 64.0, w.DeviceDiff)
}

func TestGetStatlineBeforeFormat(t *testing.T) {
	core := newTestChain(5, &a1testing.FakeConn{})
	core.NumActiveChips = 3
	core.NumCores = 90
	core.Temp = 42
	ch := &Chain{Core: core}

	assert.Equal(t, "  5: 3/ 90  42°C", GetStatlineBefore(ch))
}

func TestThreadShutdownReleasesSelector(t *testing.T) {
	sel := &boardsel.Dummy{}
	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	ctx.Sel = sel
	d := &Device{Ctx: ctx}
	d.ThreadShutdown() // must not panic with no ports/chains registered
}
