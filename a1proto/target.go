package a1proto

// GetTarget implements get_target(diff): normalises f = 0xffff/diff into
// [0x8000, 0x800000) by scaling by 256 and tracking a base-29 exponent,
// then encodes the result as nbits = uint32(f) | (shift<<24).
func GetTarget(diff float64) uint32 {
	shift := 29
	f := float64(0xffff) / diff
	for f < float64(0x8000) {
		f *= 256.0
		shift--
	}
	for f >= float64(0x800000) {
		f /= 256.0
		shift++
	}
	return uint32(f) | uint32(shift)<<24
}
