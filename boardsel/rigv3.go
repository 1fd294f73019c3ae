package boardsel

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c"
)

// rigV3ExpanderAddrs are the fixed TCA9535 addresses Rig-v3 chains its
// expanders across; each expander drives bladeMaxChains (8) chains the
// same way Blade does.
var rigV3ExpanderAddrs = [...]uint16{0x20, 0x21, 0x22, 0x23}

// RigV3 is the multi-expander product: several Blade-style TCA9535
// expanders ganged on one I2C bus, each covering 8 chains.
type RigV3 struct {
	mu        sync.Mutex
	expanders []i2c.Dev
	bus       i2c.Bus
	log       zerolog.Logger

	activeExpander int
	activeBoard    int

	tempTime []time.Time
	temp     []int
}

// NewRigV3 probes and configures every expander in rigV3ExpanderAddrs,
// stopping at the first address that doesn't answer (a Rig-v3 chassis
// need not be fully populated).
func NewRigV3(bus i2c.Bus, log zerolog.Logger) (*RigV3, error) {
	r := &RigV3{bus: bus, log: log, activeExpander: -1, activeBoard: -1}
	for _, addr := range rigV3ExpanderAddrs {
		dev := i2c.Dev{Bus: bus, Addr: addr}
		writes := [][2]byte{{regConfig0, 0x00}, {regConfig1, 0x00}, {regOutput0, 0xff}, {regOutput1, 0xff}}
		ok := true
		for _, w := range writes {
			if err := dev.Tx([]byte{w[0], w[1]}, nil); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		r.expanders = append(r.expanders, dev)
	}
	if len(r.expanders) == 0 {
		return nil, fmt.Errorf("boardsel: rig-v3 no expanders answered: %w", ErrI2CTransport)
	}
	n := len(r.expanders) * bladeBoards
	r.tempTime = make([]time.Time, n)
	r.temp = make([]int, n)
	return r, nil
}

func (r *RigV3) String() string { return "boardsel.RigV3" }
func (r *RigV3) Halt() error    { return nil }

func (r *RigV3) maxChains() int { return len(r.expanders) * bladeMaxChains }

func (r *RigV3) locate(chain int) (expander, board int, ok bool) {
	if chain < 0 || chain >= r.maxChains() {
		return 0, 0, false
	}
	expander = chain / bladeMaxChains
	board = (chain % bladeMaxChains) / 2
	return expander, board, true
}

func (r *RigV3) Select(chain int) bool {
	exp, board, ok := r.locate(chain)
	if !ok {
		return false
	}
	r.mu.Lock()
	if exp == r.activeExpander && board == r.activeBoard {
		return true
	}
	dev := r.expanders[exp]
	if err := dev.Tx([]byte{regOutput1, 0xff}, nil); err != nil {
		r.log.Error().Err(err).Int("chain", chain).Msg("rigv3 select: deselect write failed")
	}
	mask := ^byte(0x80 >> uint(board))
	if err := dev.Tx([]byte{regOutput1, mask}, nil); err != nil {
		r.log.Error().Err(err).Int("chain", chain).Msg("rigv3 select: board select write failed")
	}
	r.activeExpander, r.activeBoard = exp, board
	return true
}

func (r *RigV3) Release() { r.mu.Unlock() }

func (r *RigV3) Reset(chain int) {
	exp, _, ok := r.locate(chain)
	if !ok {
		return
	}
	within := chain % bladeMaxChains
	bit := byte(1 << uint(within))
	dev := r.expanders[exp]
	if err := dev.Tx([]byte{regOutput0, ^bit}, nil); err != nil {
		r.log.Error().Err(err).Int("chain", chain).Msg("rigv3 reset: low write failed")
	}
	sleepMS(ResetLowTimeMS)
	if err := dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
		r.log.Error().Err(err).Int("chain", chain).Msg("rigv3 reset: high write failed")
	}
	sleepMS(ResetHiTimeMS)
}

func (r *RigV3) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range r.expanders {
		if err := dev.Tx([]byte{regOutput0, 0x00}, nil); err != nil {
			r.log.Error().Err(err).Msg("rigv3 reset_all: low write failed")
		}
	}
	sleepMS(ResetLowTimeMS)
	for _, dev := range r.expanders {
		if err := dev.Tx([]byte{regOutput0, 0xff}, nil); err != nil {
			r.log.Error().Err(err).Msg("rigv3 reset_all: high write failed")
		}
	}
	sleepMS(ResetHiTimeMS)
}

func (r *RigV3) GetTemp(chain int) int {
	exp, board, ok := r.locate(chain)
	if !ok {
		return 0
	}
	idx := exp*bladeBoards + board
	if !r.tempTime[idx].IsZero() && time.Since(r.tempTime[idx]) < 2*time.Second {
		return r.temp[idx]
	}
	sensor := i2c.Dev{Bus: r.bus, Addr: uint16(0x48 + idx)}
	buf := make([]byte, 1)
	if err := sensor.Tx([]byte{regInput0}, buf); err != nil {
		r.log.Error().Err(err).Int("chain", chain).Msg("rigv3 get_temp: read failed")
		return r.temp[idx]
	}
	v := buf[0]
	if v&0x80 != 0 {
		if err := sensor.Tx([]byte{regInput0}, buf); err != nil || buf[0]&0x80 != 0 {
			v = 0
		} else {
			v = buf[0]
		}
	}
	r.temp[idx] = int(v)
	r.tempTime[idx] = time.Now()
	return r.temp[idx]
}

// SetWiper: Rig-v3 has no per-chain trimpot, same as Blade.
func (r *RigV3) SetWiper(chain int, val byte) bool { return false }

func (r *RigV3) Exit() {}
