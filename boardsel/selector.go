// Package boardsel implements the polymorphic board-selector
// capability: a process-wide singleton gating which chain's SPI lines
// are currently routed to the host, plus per-chain reset and temperature
// sensing over a shared I2C bus. Concrete selectors (Dummy, Desk, Blade,
// RigV3) all satisfy the same Selector interface — dynamic dispatch over
// a common capability rather than per-product branching in the caller.
package boardsel

import "time"

// ResetLowTimeMS and ResetHiTimeMS bound a chain reset pulse.
const (
	ResetLowTimeMS = 30
	ResetHiTimeMS  = 30
)

// Selector is the capability every board product implements. Select and
// Release bracket a critical section: the caller MUST hold the selector
// (i.e. be between a successful Select and its matching Release) before
// calling Reset or any I2C operation that shares the bus — the
// board-selector mutex is the outer lock.
type Selector interface {
	// String/Halt satisfy conn.Resource, matching how every other
	// SPI/I2C-attached device in this module names and releases itself.
	String() string
	Halt() error

	// Select blocks until the selector's mutex is free, then routes the
	// shared SPI bus to chain. Returns false if chain is out of range for
	// this product; the mutex is NOT acquired in that case.
	Select(chain int) bool
	// Release gives up the mutex acquired by Select. Does not change
	// expander state.
	Release()
	// Reset pulses chain's reset line low then high. Caller must hold
	// the mutex (i.e. call between Select and Release).
	Reset(chain int)
	// ResetAll pulses every chain's reset line; acquires and releases
	// the mutex itself.
	ResetAll()
	// GetTemp reads the chain's temperature sensor in degrees C.
	GetTemp(chain int) int
	// SetWiper programs the chain's voltage-trim potentiometer, if the
	// product has one. Products without a trimpot (Dummy, Blade, RigV3)
	// report ok=false.
	SetWiper(chain int, val byte) (ok bool)
	// Exit is the selector's shutdown hook. Every selector in this package
	// implements it as a no-op; the I2C bus is closed by whoever opened it.
	Exit()
}

// sleepMS is overridden in tests to avoid real delays.
var sleepMS = func(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }
