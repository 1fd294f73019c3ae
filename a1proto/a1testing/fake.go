// Package a1testing provides a scripted fake periph.io spi.Conn used
// across this module's test suites in place of a real chip chain.
package a1testing

import (
	"errors"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/spi"
)

// Exchange is one scripted Tx call: Want, if non-nil, is asserted against
// the write buffer; Reply is copied into the read buffer (truncated or
// zero-padded to the caller's requested length).
type Exchange struct {
	Want  []byte
	Reply []byte
	Err   error
}

// FakeConn is a scripted spi.Conn: each call to Tx consumes the next
// programmed Exchange in order.
type FakeConn struct {
	Script []Exchange
	calls  int
	Log    [][]byte // copy of every write buffer seen, in order
}

func (f *FakeConn) String() string { return "fake" }

func (f *FakeConn) Halt() error { return nil }

func (f *FakeConn) Duplex() conn.Duplex { return conn.Full }

func (f *FakeConn) Tx(w, r []byte) error {
	if len(w) > 0 {
		cp := make([]byte, len(w))
		copy(cp, w)
		f.Log = append(f.Log, cp)
	}
	if f.calls >= len(f.Script) {
		return errors.New("a1testing: script exhausted")
	}
	ex := f.Script[f.calls]
	f.calls++
	if ex.Want != nil && !bytesEqual(w, ex.Want) {
		return errors.New("a1testing: unexpected write buffer")
	}
	if ex.Err != nil {
		return ex.Err
	}
	n := copy(r, ex.Reply)
	for i := n; i < len(r); i++ {
		r[i] = 0
	}
	return nil
}

func (f *FakeConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if err := f.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ spi.Conn = &FakeConn{}
