package driver

import (
	"fmt"
	"io"
	"time"

	"periph.io/x/periph/conn/physic"
)

// LogClockChange appends one line to the persisted stats log: a
// timestamped record of a clock adjustment, signed
// by direction (+++ for uptune, --- for downtune). A nil Context.stats
// (a1ctl run without -statlog) makes this a no-op.
func (ctx *Context) LogClockChange(now time.Time, chainID, chipID int, nok, all uint64, sysClk, prevClk physic.Frequency) {
	if ctx.stats == nil {
		return
	}
	sign := "+++"
	if sysClk < prevClk {
		sign = "---"
	}
	ratio := 0
	if all > 0 {
		ratio = int((nok*1000 + all/2) / all)
	}
	ctx.statsMu.Lock()
	defer ctx.statsMu.Unlock()
	writeStatLine(ctx.stats, now, sign, chainID, chipID, ratio, sysClk, prevClk)
}

// writeStatLine is split out from LogClockChange so tests can exercise
// the exact formatting against a bytes.Buffer without going through a
// Context.
func writeStatLine(w io.Writer, now time.Time, sign string, chainID, chipID, ratioPM int, sysClk, prevClk physic.Frequency) {
	fmt.Fprintf(w, "[%s] [%s] %d/%d: %d‰ %s (%s)\n",
		now.UTC().Format(time.RFC3339), sign, chainID, chipID, ratioPM, sysClk, prevClk)
}
