package driver

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"periph.io/x/periph/conn/physic"
)

func TestLogClockChangeFormatsUptune(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(DefaultOptions(), zerolog.Nop(), &buf)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	ctx.LogClockChange(now, 3, 2, 1, 40, 800*physic.MegaHertz, 796*physic.MegaHertz)

	line := buf.String()
	assert.Contains(t, line, "[+++]", "uptune marker (sysClk > prevClk)")
	assert.Contains(t, line, "3/2", "chain/chip")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "(796MHz)"), "trailing previous clock, got %q", line)
}

func TestLogClockChangeFormatsDowntune(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(DefaultOptions(), zerolog.Nop(), &buf)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	ctx.LogClockChange(now, 1, 1, 5, 5, 796*physic.MegaHertz, 800*physic.MegaHertz)

	line := buf.String()
	assert.Contains(t, line, "[---]", "downtune marker (sysClk < prevClk)")
	assert.Contains(t, line, "1000‰", "5/5 bad ratio")
}

func TestLogClockChangeNilStatsIsNoOp(t *testing.T) {
	ctx := NewContext(DefaultOptions(), zerolog.Nop(), nil)
	// Must not panic with a nil stats writer.
	ctx.LogClockChange(time.Now(), 0, 0, 0, 0, 0, 0)
}
