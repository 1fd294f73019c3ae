//go:build linux || darwin

package driver

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// RaisePriority pins the calling goroutine to its OS thread and nudges
// that thread's scheduling priority, so the scan loop isn't starved of
// the CPU by other host threads while it's blocked mid-SPI-transfer
// waiting out a chip's shift register. prio follows POSIX setpriority
// semantics: lower is higher priority, 0 is the default.
//
// Errors are logged, not returned: failing to raise priority (e.g. the
// scan loop isn't running as root) degrades performance, not correctness,
// so a1ctl keeps running at the default priority rather than aborting.
func RaisePriority(ctx *Context, prio int) {
	runtime.LockOSThread()
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, prio); err != nil {
		ctx.Log.Warn().Err(err).Int("prio", prio).Msg("driver: raise scan-loop priority failed")
	}
}
