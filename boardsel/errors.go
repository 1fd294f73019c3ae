package boardsel

import "errors"

var (
	// ErrI2CTransport marks an I2C failure during selector init or use; a
	// failed init causes the caller to probe the next product in line.
	ErrI2CTransport = errors.New("boardsel: i2c transport failure")
	// ErrChainOutOfRange names a chain index >= the product's maximum chain
	// count. Select reports that case by returning false; no function in
	// this package returns this error.
	ErrChainOutOfRange = errors.New("boardsel: chain out of range")
)
