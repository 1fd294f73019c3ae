package a1proto

import "errors"

// Sentinel errors classifying the failure kinds a command exchange can
// produce. Callers use errors.Is to decide whether to disable a chip,
// retry next tick, or abort the chain.
var (
	// ErrTransport is returned when the underlying spi.Conn/i2c.Bus
	// transfer itself failed.
	ErrTransport = errors.New("a1proto: transport failure")

	// ErrFraming is returned when a response's echoed opcode (or chip
	// id, for READ_REG) does not match what was requested.
	ErrFraming = errors.New("a1proto: protocol framing mismatch")

	// ErrNoChips is returned by chain detection when no chip echoed the
	// reset header.
	ErrNoChips = errors.New("a1proto: no chips detected")

	// ErrPLLLockTimeout is returned when set_pll_config exhausts its
	// poll budget without observing the lock bit and register echo.
	ErrPLLLockTimeout = errors.New("a1proto: PLL lock timeout")
)
