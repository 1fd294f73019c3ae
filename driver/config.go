package driver

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/periph/conn/physic"
)

// MaxBoards is the largest per-board override array the CLI option
// grammar accepts ("v0-v1-…-v15").
const MaxBoards = 16

// Options is the parsed form of --bitmine-a1-options.
type Options struct {
	RefClk       physic.Frequency
	SysClk       physic.Frequency
	SPIClk       physic.Frequency
	ChipNum      int
	Wiper        byte
	OverrideDiff float64
	BoardMask    uint64

	// Per-board overrides (index = board id); zero means "don't
	// override", falling back to the field above.
	ClkPerBoard    [MaxBoards]physic.Frequency
	WiperPerBoard  [MaxBoards]byte
	MaskPerBoard   [MaxBoards]uint64
	SPIClkPerBoard [MaxBoards]physic.Frequency
}

// DefaultOptions returns the documented config defaults.
func DefaultOptions() Options {
	return Options{
		RefClk: 16 * physic.MegaHertz,
		SysClk: 800 * physic.MegaHertz,
		SPIClk: 2 * physic.MegaHertz,
	}
}

// ParseOptions parses the --bitmine-a1-options grammar: a colon-separated
// header (six decimals then one hex board_mask), a space, then four
// dash-separated per-board arrays (clk_tmp wiper_tmp cmask_tmp sclk_tmp),
// each with missing trailing entries repeating the last given value.
func ParseOptions(s string) (Options, error) {
	opt := DefaultOptions()

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return opt, fmt.Errorf("driver: empty --bitmine-a1-options")
	}

	head := strings.Split(fields[0], ":")
	if len(head) != 7 {
		return opt, fmt.Errorf("driver: option header wants 7 colon-separated fields, got %d", len(head))
	}
	dec := make([]int64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseInt(head[i], 10, 64)
		if err != nil {
			return opt, fmt.Errorf("driver: option field %d (%q): %w", i, head[i], err)
		}
		dec[i] = v
	}
	mask, err := strconv.ParseUint(head[6], 16, 64)
	if err != nil {
		return opt, fmt.Errorf("driver: board_mask (%q): %w", head[6], err)
	}

	if dec[0] != 0 {
		opt.RefClk = physic.Frequency(dec[0]) * physic.MegaHertz
	}
	if dec[1] != 0 {
		opt.SysClk = physic.Frequency(dec[1]) * physic.MegaHertz
	}
	if dec[2] != 0 {
		opt.SPIClk = physic.Frequency(dec[2]) * physic.MegaHertz
	}
	opt.ChipNum = int(dec[3])
	opt.Wiper = byte(dec[4])
	opt.OverrideDiff = float64(dec[5])
	opt.BoardMask = mask

	arrays := [4]string{}
	for i := range arrays {
		if i+1 < len(fields) {
			arrays[i] = fields[i+1]
		}
	}

	clk, err := parseBoardArray(arrays[0], 10)
	if err != nil {
		return opt, fmt.Errorf("driver: clk_tmp: %w", err)
	}
	wiper, err := parseBoardArray(arrays[1], 10)
	if err != nil {
		return opt, fmt.Errorf("driver: wiper_tmp: %w", err)
	}
	cmask, err := parseBoardArray(arrays[2], 16)
	if err != nil {
		return opt, fmt.Errorf("driver: cmask_tmp: %w", err)
	}
	sclk, err := parseBoardArray(arrays[3], 10)
	if err != nil {
		return opt, fmt.Errorf("driver: sclk_tmp: %w", err)
	}

	for i := 0; i < MaxBoards; i++ {
		if clk[i] != 0 {
			opt.ClkPerBoard[i] = physic.Frequency(clk[i]) * physic.MegaHertz
		}
		opt.WiperPerBoard[i] = byte(wiper[i])
		opt.MaskPerBoard[i] = cmask[i]
		if sclk[i] != 0 {
			opt.SPIClkPerBoard[i] = physic.Frequency(sclk[i]) * physic.MegaHertz
		}
	}
	return opt, nil
}

// parseBoardArray splits raw on '-' and fills a MaxBoards-length array,
// repeating the last given entry into every remaining slot. An empty raw
// string yields an all-zero array (no overrides).
func parseBoardArray(raw string, base int) ([MaxBoards]uint64, error) {
	var out [MaxBoards]uint64
	if raw == "" {
		return out, nil
	}
	parts := strings.Split(raw, "-")
	var last uint64
	for i := 0; i < MaxBoards; i++ {
		if i < len(parts) {
			v, err := strconv.ParseUint(parts[i], base, 64)
			if err != nil {
				return out, fmt.Errorf("entry %d (%q): %w", i, parts[i], err)
			}
			last = v
		}
		out[i] = last
	}
	return out, nil
}

// ClkForBoard resolves the effective sys_clk for a board, applying its
// per-board override if one is set.
func (o Options) ClkForBoard(board int) physic.Frequency {
	if board >= 0 && board < MaxBoards && o.ClkPerBoard[board] != 0 {
		return o.ClkPerBoard[board]
	}
	return o.SysClk
}

// WiperForBoard resolves the effective wiper value for a board.
func (o Options) WiperForBoard(board int) byte {
	if board >= 0 && board < MaxBoards && o.WiperPerBoard[board] != 0 {
		return o.WiperPerBoard[board]
	}
	return o.Wiper
}

// ChipMaskForBoard resolves the effective chip_bitmask for a board.
func (o Options) ChipMaskForBoard(board int) uint64 {
	if board >= 0 && board < MaxBoards && o.MaskPerBoard[board] != 0 {
		return o.MaskPerBoard[board]
	}
	return o.BoardMask
}

// SPIClkForBoard resolves the effective spi_clk for a board.
func (o Options) SPIClkForBoard(board int) physic.Frequency {
	if board >= 0 && board < MaxBoards && o.SPIClkPerBoard[board] != 0 {
		return o.SPIClkPerBoard[board]
	}
	return o.SPIClk
}
