package a1proto

import (
	"fmt"

	"periph.io/x/periph/conn/spi"
)

// WriteJob sends the 58-byte WRITE_JOB frame (header + 56 content bytes,
// no trailing pad) for jobID (1..4) to chipID and verifies that ret[0..1]
// echo the tx header bytes verbatim.
func (f *Frame) WriteJob(conn spi.Conn, chipID, jobID int, w *Work, numChips int) error {
	opcode := WriteJobOpcode(jobID)
	payload := WriteJobFrame(w)
	ack, err := f.exec(conn, opcode, chipID, payload, 0, 2, numChips)
	if err != nil {
		return err
	}
	if len(ack) != 2 || ack[0] != opcode || ack[1] != byte(chipID) {
		return fmt.Errorf("a1proto: write_job chip %d job %d: %w", chipID, jobID, ErrFraming)
	}
	return nil
}

// WriteRegCmd writes a 6-byte PLL/config register to chipID (0 = broadcast).
func (f *Frame) WriteRegCmd(conn spi.Conn, chipID int, reg [6]byte, numChips int) error {
	_, err := f.Exec(conn, WriteReg, chipID, reg[:], 0, numChips)
	return err
}

// ReadRegCmd reads back a chip's register block. Response validates that
// ret[0] == ReadRegResp and ret[1] == chipID.
func (f *Frame) ReadRegCmd(conn spi.Conn, chipID, numChips int) ([]byte, error) {
	ack, err := f.Exec(conn, ReadReg, chipID, nil, ReadRegRespLen, numChips)
	if err != nil {
		return nil, err
	}
	if len(ack) < 2 || ack[0] != ReadRegResp || int(ack[1]) != chipID {
		return nil, fmt.Errorf("a1proto: read_reg chip %d: %w", chipID, ErrFraming)
	}
	return ack, nil
}

// BistStartCmd broadcasts BIST_START so chips self-enumerate and prepare
// to report core counts at subsequent READ_REG.
func (f *Frame) BistStartCmd(conn spi.Conn, numChips int) error {
	_, err := f.Exec(conn, BistStart, 0, nil, 0, numChips)
	return err
}

// BistFixCmd broadcasts BIST_FIX, latching the chain after PLL bring-up.
func (f *Frame) BistFixCmd(conn spi.Conn, numChips int) error {
	_, err := f.Exec(conn, BistFix, 0, nil, 0, numChips)
	return err
}

// ResetStrategy is the RESET payload byte used by abort_work and
// restart_chip to discard in-flight jobs (as opposed to a bare detection
// reset, which carries an all-zero payload).
const ResetStrategy byte = 0xe5

// ResetCmd issues RESET to chipID (0 = broadcast) carrying the given
// single-byte strategy (pass 0 for a plain reset).
func (f *Frame) ResetCmd(conn spi.Conn, chipID int, strategy byte, numChips int) error {
	_, err := f.Exec(conn, Reset, chipID, []byte{strategy}, 0, numChips)
	return err
}
