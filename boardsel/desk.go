package boardsel

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c"
)

// Desk addresses a PCA9555-class expander (register-compatible with the
// TCA9535 Blade uses) at a fixed address, selecting 1 of 5 chains, with a
// per-chain MCP4x-class trimpot for voltage control.
const (
	deskAddr      = 0x21
	deskMaxChains = 5
	deskWiperBase = 0x28 // one trimpot address per chain
)

// Desk is the single-stick, 5-chain product.
type Desk struct {
	mu  sync.Mutex
	dev i2c.Dev
	bus i2c.Bus
	log zerolog.Logger

	activeChain int // -1 until the first Select

	tempTime [deskMaxChains]time.Time
	temp     [deskMaxChains]int
}

// NewDesk configures both expander ports as outputs, deselects every
// chain, and returns a ready Desk, or an error wrapping ErrI2CTransport.
func NewDesk(bus i2c.Bus, log zerolog.Logger) (*Desk, error) {
	d := &Desk{dev: i2c.Dev{Bus: bus, Addr: deskAddr}, bus: bus, log: log, activeChain: -1}
	writes := [][2]byte{{regConfig0, 0x00}, {regConfig1, 0x00}, {regOutput0, 0xff}, {regOutput1, 0xff}}
	for _, w := range writes {
		if err := d.dev.Tx([]byte{w[0], w[1]}, nil); err != nil {
			return nil, fmt.Errorf("boardsel: desk init reg %#x: %w", w[0], ErrI2CTransport)
		}
	}
	return d, nil
}

func (d *Desk) String() string { return "boardsel.Desk" }
func (d *Desk) Halt() error    { return nil }

// Select one-hot deselects every chain line then clears the target
// chain's bit (active low), mirroring Blade's deselect-then-select
// sequence; consecutive selects of the same chain are a no-op.
func (d *Desk) Select(chain int) bool {
	if chain < 0 || chain >= deskMaxChains {
		return false
	}
	d.mu.Lock()
	if chain == d.activeChain {
		return true
	}
	if err := d.dev.Tx([]byte{regOutput1, 0xff}, nil); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk select: deselect write failed")
	}
	mask := ^byte(1 << uint(chain))
	if err := d.dev.Tx([]byte{regOutput1, mask}, nil); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk select: chain select write failed")
	}
	d.activeChain = chain
	return true
}

func (d *Desk) Release() { d.mu.Unlock() }

func (d *Desk) Reset(chain int) {
	if chain < 0 || chain >= deskMaxChains {
		return
	}
	bit := byte(1 << uint(chain))
	if err := d.dev.Tx([]byte{regOutput0, ^bit}, nil); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk reset: low write failed")
	}
	sleepMS(ResetLowTimeMS)
	if err := d.dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk reset: high write failed")
	}
	sleepMS(ResetHiTimeMS)
}

func (d *Desk) ResetAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Tx([]byte{regOutput0, 0x00}, nil); err != nil {
		d.log.Error().Err(err).Msg("desk reset_all: low write failed")
	}
	sleepMS(ResetLowTimeMS)
	if err := d.dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
		d.log.Error().Err(err).Msg("desk reset_all: high write failed")
	}
	sleepMS(ResetHiTimeMS)
}

func (d *Desk) GetTemp(chain int) int {
	if chain < 0 || chain >= deskMaxChains {
		return 0
	}
	if !d.tempTime[chain].IsZero() && time.Since(d.tempTime[chain]) < 2*time.Second {
		return d.temp[chain]
	}
	sensor := i2c.Dev{Bus: d.bus, Addr: uint16(0x48 + chain)}
	buf := make([]byte, 1)
	if err := sensor.Tx([]byte{regInput0}, buf); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk get_temp: read failed")
		return d.temp[chain]
	}
	v := buf[0]
	if v&0x80 != 0 {
		if err := sensor.Tx([]byte{regInput0}, buf); err != nil || buf[0]&0x80 != 0 {
			v = 0
		} else {
			v = buf[0]
		}
	}
	d.temp[chain] = int(v)
	d.tempTime[chain] = time.Now()
	return d.temp[chain]
}

// SetWiper programs chain's MCP4x trimpot with a single wiper-position
// byte (the MCP4017/4018 single-byte write protocol).
func (d *Desk) SetWiper(chain int, val byte) bool {
	if chain < 0 || chain >= deskMaxChains {
		return false
	}
	pot := i2c.Dev{Bus: d.bus, Addr: uint16(deskWiperBase + chain)}
	if err := pot.Tx([]byte{val}, nil); err != nil {
		d.log.Error().Err(err).Int("chain", chain).Msg("desk set_wiper: write failed")
		return false
	}
	return true
}

func (d *Desk) Exit() {}
