// Package driver implements the host-facing scan loop: chain
// detection/registration, the per-thread scanwork/queue_full/flush_work
// cycle, the statline formatter, and the option-string config parser. It
// owns the process-wide state (stats file, SPI contexts, board selector,
// parsed config) in a single struct rather than file-scope globals.
package driver

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/spi"

	"github.com/zefir-k/cgminer/a1chain"
	"github.com/zefir-k/cgminer/autotune"
	"github.com/zefir-k/cgminer/boardsel"
)

// Context is the single owned process-wide object: established at
// Detect, torn down at ThreadShutdown. Nothing in this package reaches
// for a package-level variable instead.
type Context struct {
	Opts Options
	Log  zerolog.Logger

	// SPIPorts are the two process-wide SPI contexts (spi0, spi1);
	// cmd/a1ctl opens these via spireg before calling Detect. Blade-class
	// products route odd chains to SPIPorts[1].
	SPIPorts [2]spi.PortCloser
	// I2CBus is the shared bus boardsel.Probe opens the selector on.
	I2CBus i2c.Bus

	Sel boardsel.Selector

	mu     sync.Mutex
	Chains []*Chain

	stats   io.Writer
	statsMu sync.Mutex
}

// Chain pairs an a1chain.Chain with the board/SPI plumbing driver needs
// that a1chain itself doesn't know about: which board the selector must
// route to reach it, and the concrete SPI port so its clock can be
// reconfigured after a PLL re-lock.
type Chain struct {
	Core  *a1chain.Chain
	Board int
	Port  spi.PortCloser

	AutotuneCfg autotune.Config
}

// NewContext builds an empty Context from parsed options; Detect
// populates Chains and Sel.
func NewContext(opts Options, log zerolog.Logger, stats io.Writer) *Context {
	return &Context{Opts: opts, Log: log, stats: stats}
}

// withChains runs fn while holding the chain-list lock (guards Chains
// itself being appended/reassigned, not the chains' own per-chain locks).
func (ctx *Context) withChains(fn func()) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	fn()
}
