// Package a1proto implements the SPI command framing for a daisy-chained
// Bitmine A1 ASIC chain: opcode encoding, the clock-through padding every
// command requires, the WRITE_JOB/READ_RESULT wire layouts, and the
// get_target difficulty encoding.
//
// A1 chips are wired as a shift register: every command must clock enough
// extra bytes through the chain for the addressed chip's response to walk
// back to the host, which is why every exec() here is a header/payload
// write immediately followed by a padded read of a size computed from the
// target chip id and (when known) the chain length.
package a1proto
