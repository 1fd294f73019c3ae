package a1proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTargetKnownDiffs(t *testing.T) {
	cases := []struct {
		diff float64
		want uint32
	}{
		{1.0, 0x1d00ffff},
		{256.0, 0x1c00ffff},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, GetTarget(c.diff), "GetTarget(%v)", c.diff)
	}
}

func TestGetTargetMonotonicNonIncreasing(t *testing.T) {
	diffs := []float64{0.5, 1, 2, 4, 16, 64, 256, 1024, 65536}
	prev := GetTarget(diffs[0])
	for _, d := range diffs[1:] {
		got := GetTarget(d)
		assert.LessOrEqualf(t, got, prev, "GetTarget(%v) must be non-increasing", d)
		prev = got
	}
}
