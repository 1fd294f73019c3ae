// a1ctl is a reference operator binary wiring this module's core
// (a1proto, a1chain, autotune, boardsel, driver) to a periph-registered
// SPI/I2C backend: buses are opened by name through spireg/i2creg rather
// than by importing a concrete transport package, so the binary runs
// unmodified against a sysfs SPI/I2C bus on an embedded Linux board or
// any other registered backend (for an FTDI-attached stick,
// side-effect-import periph.io/x/extra/hostextra/d2xx).
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/zefir-k/cgminer/driver"
)

func mainImpl() error {
	spi0 := flag.String("spi0", "", "periph-registered SPI bus name for chains 0,2,4,... (required)")
	spi1 := flag.String("spi1", "", "periph-registered SPI bus name for chains 1,3,5,... on multi-bus boards (optional)")
	i2cName := flag.String("i2c", "", "periph-registered I2C bus name the board selector's expander/sensors live on (optional; omit for a single-chain Dummy rig)")
	opts := flag.String("bitmine-a1-options", "0:0:0:0:0:0:0", "ref:sys:spi:chipnum:wiper:override_diff:board_mask clk_tmp wiper_tmp cmask_tmp sclk_tmp")
	statlog := flag.String("statlog", "", "path to append autotune clock-change records to (optional)")
	verbose := flag.Bool("v", false, "debug-level logging")
	prio := flag.Int("priority", 0, "POSIX scheduling priority to request for the scan loop (lower is higher priority)")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	if *spi0 == "" {
		return errors.New("-spi0 is required")
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("a1ctl: periph host init: %w", err)
	}

	parsedOpts, err := driver.ParseOptions(*opts)
	if err != nil {
		return fmt.Errorf("a1ctl: %w", err)
	}

	var statsFile *os.File
	if *statlog != "" {
		statsFile, err = os.OpenFile(*statlog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("a1ctl: opening statlog: %w", err)
		}
		defer statsFile.Close()
	}
	var statsWriter io.Writer
	if statsFile != nil {
		statsWriter = statsFile
	}

	ctx := driver.NewContext(parsedOpts, log, statsWriter)

	port0, err := spireg.Open(*spi0)
	if err != nil {
		return fmt.Errorf("a1ctl: opening %s: %w", *spi0, err)
	}
	ctx.SPIPorts[0] = port0
	if *spi1 != "" {
		port1, err := spireg.Open(*spi1)
		if err != nil {
			return fmt.Errorf("a1ctl: opening %s: %w", *spi1, err)
		}
		ctx.SPIPorts[1] = port1
	} else {
		ctx.SPIPorts[1] = port0
	}

	if *i2cName != "" {
		bus, err := i2creg.Open(*i2cName)
		if err != nil {
			return fmt.Errorf("a1ctl: opening %s: %w", *i2cName, err)
		}
		defer bus.Close()
		ctx.I2CBus = bus
	}

	// d.GetQueued/SubmitNonce/WorkCompleted are left nil here: wiring
	// them to a real host mining framework's work source and nonce sink
	// is the host's job, not something this reference binary invents.
	// QueueFull/ScanWork below still run every scan step; with no host
	// attached QueueFull always reports full and ScanWork accepts every
	// nonce.
	d := &driver.Device{Ctx: ctx}

	if err := d.Detect(false); err != nil {
		return fmt.Errorf("a1ctl: detect: %w", err)
	}
	log.Info().Int("chains", len(ctx.Chains)).Msg("a1ctl: chains registered")

	driver.RaisePriority(ctx, *prio)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

loop:
	for {
		select {
		case <-sigc:
			log.Info().Msg("a1ctl: shutdown requested")
			break loop
		default:
		}

		for _, ch := range ctx.Chains {
			d.QueueFull(ch)
		}
		credited := d.ScanWork(time.Now())
		if credited > 0 {
			log.Debug().Int64("hashes_credited", credited).Msg("a1ctl: scanwork")
		}
		for _, ch := range ctx.Chains {
			log.Debug().Str("statline", driver.GetStatlineBefore(ch)).Msg("a1ctl: statline")
		}
	}

	d.ThreadShutdown()
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "a1ctl: %s\n", err)
		os.Exit(1)
	}
}
