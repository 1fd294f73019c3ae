package boardsel

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c"
)

// Blade addresses a TCA9535 16-bit I/O expander at a fixed address,
// routing 8 chains packed two per board across 4 boards.
const (
	bladeAddr      = 0x27
	bladeMaxChains = 8
	bladeBoards    = bladeMaxChains / 2
)

// TCA9535 register map: two 8-bit ports, each with input/output/
// polarity-inversion/configuration registers.
const (
	regInput0  = 0x00
	regOutput0 = 0x02
	regOutput1 = 0x03
	regConfig0 = 0x06
	regConfig1 = 0x07
)

// Blade is the TCA9535-based 8-chain selector.
type Blade struct {
	mu  sync.Mutex
	dev i2c.Dev
	log zerolog.Logger

	activeBoard int // -1 until the first Select

	tempTime [bladeBoards]time.Time
	temp     [bladeBoards]int
}

// NewBlade configures the expander (both ports as outputs, all chain
// selects deselected) and returns a ready Blade, or an error wrapping
// ErrI2CTransport if the expander doesn't answer — the caller (Probe)
// moves on to the next product in that case.
func NewBlade(bus i2c.Bus, log zerolog.Logger) (*Blade, error) {
	b := &Blade{dev: i2c.Dev{Bus: bus, Addr: bladeAddr}, log: log, activeBoard: -1}
	writes := [][2]byte{{regConfig0, 0x00}, {regConfig1, 0x00}, {regOutput0, 0xff}, {regOutput1, 0xff}}
	for _, w := range writes {
		if err := b.dev.Tx([]byte{w[0], w[1]}, nil); err != nil {
			return nil, fmt.Errorf("boardsel: blade init reg %#x: %w", w[0], ErrI2CTransport)
		}
	}
	return b, nil
}

func (b *Blade) String() string { return "boardsel.Blade" }
func (b *Blade) Halt() error    { return nil }

// Select routes the SPI bus to chain: board = chain/2, then reg 0x03
// is written 0xff (deselect) followed by
// ^(0x80>>board) (select just that board's pair). Consecutive selects
// within the same board skip the I2C writes entirely.
func (b *Blade) Select(chain int) bool {
	if chain < 0 || chain >= bladeMaxChains {
		return false
	}
	b.mu.Lock()
	board := chain / 2
	if board == b.activeBoard {
		return true
	}
	if err := b.dev.Tx([]byte{regOutput1, 0xff}, nil); err != nil {
		b.log.Error().Err(err).Int("chain", chain).Msg("blade select: deselect write failed")
	}
	mask := ^byte(0x80 >> uint(board))
	if err := b.dev.Tx([]byte{regOutput1, mask}, nil); err != nil {
		b.log.Error().Err(err).Int("chain", chain).Msg("blade select: board select write failed")
	}
	b.activeBoard = board
	return true
}

func (b *Blade) Release() { b.mu.Unlock() }

// Reset pulses chain's individual reset bit on port 0 low then high.
// Caller must hold the mutex (between Select and Release).
func (b *Blade) Reset(chain int) {
	if chain < 0 || chain >= bladeMaxChains {
		return
	}
	bit := byte(1 << uint(chain))
	if err := b.dev.Tx([]byte{regOutput0, ^bit}, nil); err != nil {
		b.log.Error().Err(err).Int("chain", chain).Msg("blade reset: low write failed")
	}
	sleepMS(ResetLowTimeMS)
	if err := b.dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
		b.log.Error().Err(err).Int("chain", chain).Msg("blade reset: high write failed")
	}
	sleepMS(ResetHiTimeMS)
}

func (b *Blade) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dev.Tx([]byte{regOutput0, 0x00}, nil); err != nil {
		b.log.Error().Err(err).Msg("blade reset_all: low write failed")
	}
	sleepMS(ResetLowTimeMS)
	if err := b.dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
		b.log.Error().Err(err).Msg("blade reset_all: high write failed")
	}
	sleepMS(ResetHiTimeMS)
}

// GetTemp reads the LM75-class sensor shared by chain's board pair,
// sanitising an out-of-range (>100C, bit7 set) reading by retrying once
// before reporting 0. Readings are cached for the board pair.
func (b *Blade) GetTemp(chain int) int {
	board := chain / 2
	if board < 0 || board >= bladeBoards {
		return 0
	}
	if !b.tempTime[board].IsZero() && time.Since(b.tempTime[board]) < 2*time.Second {
		return b.temp[board]
	}
	sensor := i2c.Dev{Bus: b.dev.Bus, Addr: uint16(0x48 + board)}
	buf := make([]byte, 1)
	if err := sensor.Tx([]byte{regInput0}, buf); err != nil {
		b.log.Error().Err(err).Int("board", board).Msg("blade get_temp: read failed")
		return b.temp[board]
	}
	v := buf[0]
	if v&0x80 != 0 {
		if err := sensor.Tx([]byte{regInput0}, buf); err != nil || buf[0]&0x80 != 0 {
			v = 0
		} else {
			v = buf[0]
		}
	}
	b.temp[board] = int(v)
	b.tempTime[board] = time.Now()
	return b.temp[board]
}

// SetWiper: the Blade product has no per-chain trimpot (only Desk does).
func (b *Blade) SetWiper(chain int, val byte) bool { return false }

func (b *Blade) Exit() {}
