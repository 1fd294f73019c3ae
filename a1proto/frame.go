package a1proto

import (
	"fmt"

	"periph.io/x/periph/conn/spi"
)

// Command opcodes, first byte of every frame. Second byte is always the
// target chip id (0 meaning broadcast).
const (
	BistStart    byte = 0x01
	BistFix      byte = 0x03
	Reset        byte = 0x04
	WriteJob     byte = 0x07
	ReadResult   byte = 0x08
	WriteReg     byte = 0x09
	ReadReg      byte = 0x0a
	ReadRegResp  byte = 0x1a
)

// MaxChainLength is the largest daisy chain this protocol supports.
const MaxChainLength = 64

// ReadRegRespLen is the number of bytes read back by a READ_REG exchange:
// enough to cover rx[7] (the reported core count used by check_chip).
const ReadRegRespLen = 8

// Frame holds reusable tx and poll scratch buffers for one chain's SPI
// exchanges. They start empty, grow on demand to the largest frame seen,
// and are reused after that; the write phase's discard buffer is still
// allocated per command.
type Frame struct {
	tx   []byte
	poll []byte
}

// txBuf returns a tx buffer of exactly n bytes, zeroed, reusing capacity
// when possible.
func (f *Frame) txBuf(n int) []byte {
	if cap(f.tx) < n {
		f.tx = make([]byte, n)
	} else {
		f.tx = f.tx[:n]
		for i := range f.tx {
			f.tx[i] = 0
		}
	}
	return f.tx
}

func (f *Frame) pollBuf(n int) []byte {
	if cap(f.poll) < n {
		f.poll = make([]byte, n)
	} else {
		f.poll = f.poll[:n]
		for i := range f.poll {
			f.poll[i] = 0
		}
	}
	return f.poll
}

// pollLen computes the size of the padded read that must follow a command
// write: broadcast reads pad for every chip in the chain (or an
// assumed 8-chip chain plus 32 bytes of slack when the chain length is not
// yet known, i.e. during detection); unicast reads pad proportionally to
// the addressed chip's position.
func pollLen(respLen, chipID, numChips int) int {
	if chipID == 0 {
		n := numChips
		extra := 0
		if n == 0 {
			n = 8
			extra = 32
		}
		return respLen + 4*n + extra
	}
	return respLen + 4*chipID - 2
}

// Exec runs the generic A1 command exchange: write a 2-byte header plus
// payload (padded to tx_len = 4+len(payload) by the 2 trailing pad bytes
// every register-style command carries), then perform a second, read-only
// transfer of pollLen(respLen, chipID, numChips) bytes. The returned ack
// slice is the trailing respLen bytes of that second read — the offset at
// which the chip's acknowledgement settles once the command has clocked
// all the way through and back (poll_len-resp_len from the start of the
// poll read).
func (f *Frame) Exec(conn spi.Conn, cmd byte, chipID int, payload []byte, respLen, numChips int) (ack []byte, err error) {
	return f.exec(conn, cmd, chipID, payload, 2, respLen, numChips)
}

// exec is Exec with an explicit trailing-pad length: 2 for the short
// register-style commands, 0 for WRITE_JOB, whose 58-byte frame (2-byte
// header + 56 bytes of content) carries no pad of its own.
func (f *Frame) exec(conn spi.Conn, cmd byte, chipID int, payload []byte, pad, respLen, numChips int) (ack []byte, err error) {
	txLen := 2 + len(payload) + pad
	tx := f.txBuf(txLen)
	tx[0] = cmd
	tx[1] = byte(chipID)
	copy(tx[2:], payload)
	// tx[2+len(payload):] stays zero: the trailing padding, when any.
	discard := make([]byte, txLen)
	if err := conn.Tx(tx, discard); err != nil {
		return nil, fmt.Errorf("a1proto: write %#x chip %d: %w", cmd, chipID, ErrTransport)
	}

	pl := pollLen(respLen, chipID, numChips)
	if pl <= 0 {
		return nil, nil
	}
	poll := f.pollBuf(pl)
	if err := conn.Tx(nil, poll); err != nil {
		return nil, fmt.Errorf("a1proto: poll %#x chip %d: %w", cmd, chipID, ErrTransport)
	}
	if respLen <= 0 {
		return nil, nil
	}
	return poll[pl-respLen : pl], nil
}

// FlushSPI clocks 64 zero bytes through the chain to drain the pipeline
// after an error.
func FlushSPI(conn spi.Conn) error {
	buf := make([]byte, 64)
	if err := conn.Tx(buf, buf); err != nil {
		return fmt.Errorf("a1proto: flush: %w", ErrTransport)
	}
	return nil
}

// DetectChain writes a RESET header (6 bytes, all zero after the opcode)
// and reads back 2 bytes at a time, up to 2*MaxChainLength words, looking
// for the echoed {Reset, 0x00} pair. The chain length is (i/2)+1 where i
// is the word index the echo appeared at; 0 means no chip answered.
func DetectChain(conn spi.Conn) (int, error) {
	tx := make([]byte, 6)
	tx[0] = Reset
	discard := make([]byte, 6)
	if err := conn.Tx(tx, discard); err != nil {
		return 0, fmt.Errorf("a1proto: detect write: %w", ErrTransport)
	}
	word := make([]byte, 2)
	for i := 0; i < 2*MaxChainLength; i++ {
		if err := conn.Tx(nil, word); err != nil {
			return 0, fmt.Errorf("a1proto: detect read: %w", ErrTransport)
		}
		if word[0] == Reset && word[1] == 0x00 {
			return i/2 + 1, nil
		}
	}
	return 0, nil
}

// swab256 byte-reverses a 256-bit (32-byte) value in place, matching the
// chip's expected midstate byte order.
func swab256(dst, src []byte) {
	for i := 0; i < 32; i++ {
		dst[i] = src[31-i]
	}
}

// swab32 reverses the 4 bytes of a little-endian uint32 source into a
// big-endian destination word.
func swab32(src []byte) [4]byte {
	return [4]byte{src[3], src[2], src[1], src[0]}
}

// WriteJobFrame is the 58-byte payload (minus the 2-byte header Exec adds)
// for a WRITE_JOB command; the job id rides in the opcode byte, not here.
func WriteJobFrame(w *Work) []byte {
	p := make([]byte, 56)
	swab256(p[0:32], w.Midstate[:])
	for i := 0; i < 3; i++ {
		word := swab32(w.DataTail[i*4 : i*4+4])
		copy(p[32+i*4:], word[:])
	}
	// p[44:48] start nonce stays zero.
	if w.OverrideDiff {
		t := GetTarget(w.DeviceDiff)
		p[48] = byte(t)
		p[49] = byte(t >> 8)
		p[50] = byte(t >> 16)
		p[51] = byte(t >> 24)
	} else {
		p[48] = byte(w.NBits)
		p[49] = byte(w.NBits >> 8)
		p[50] = byte(w.NBits >> 16)
		p[51] = byte(w.NBits >> 24)
	}
	p[52], p[53], p[54], p[55] = 0xff, 0xff, 0xff, 0xff
	return p
}

// WriteJobOpcode packs the job id (1..4) into the high nibble of the
// WRITE_JOB opcode byte.
func WriteJobOpcode(jobID int) byte {
	return byte(jobID<<4) | WriteJob
}

// Result is one decoded READ_RESULT_BCAST record.
type Result struct {
	JobID  int
	ChipID int
	Nonce  uint32 // host byte order
}

// ReadResultBcast writes the 8-byte broadcast result prelude, reads
// 8+4*numChips bytes, and scans two bytes at a time for the first word
// whose low nibble equals ReadResult; that word plus the 5 following
// bytes form the result record {job_id:4, cmd:4, chip_id:8, nonce:32}
// (big-endian nonce on the wire, byte-swapped here to host order).
//
// A zero-value Result with ok=false means the queue was empty
// (no matching word in the scan).
func (f *Frame) ReadResultBcast(conn spi.Conn, numChips int) (res Result, ok bool, err error) {
	prelude := make([]byte, 8)
	discard := make([]byte, 8)
	if err := conn.Tx(prelude, discard); err != nil {
		return Result{}, false, fmt.Errorf("a1proto: read_result write: %w", ErrTransport)
	}
	n := numChips
	if n == 0 {
		n = 8
	}
	buf := f.pollBuf(8 + 4*n)
	if err := conn.Tx(nil, buf); err != nil {
		return Result{}, false, fmt.Errorf("a1proto: read_result poll: %w", ErrTransport)
	}
	for i := 0; i+6 <= len(buf); i += 2 {
		// The record's first byte carries job_id in its high nibble and
		// the command echo in its low nibble.
		if buf[i]&0x0f != ReadResult {
			continue
		}
		rec := buf[i : i+6]
		jobID := int(rec[0] >> 4)
		chipID := int(rec[1])
		nonce := uint32(rec[2])<<24 | uint32(rec[3])<<16 | uint32(rec[4])<<8 | uint32(rec[5])
		return Result{JobID: jobID, ChipID: chipID, Nonce: swapU32(nonce)}, true, nil
	}
	return Result{}, false, nil
}

func swapU32(v uint32) uint32 {
	return (v&0xff)<<24 | (v&0xff00)<<8 | (v&0xff0000)>>8 | (v&0xff000000)>>24
}
