package boardsel

import (
	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/i2c"
)

// Probe walks the product discovery order: Desk, then Blade, then
// Rig-v3, then a single-chain Dummy fallback. Only the first product
// whose init succeeds is returned; a dummy never fails.
func Probe(bus i2c.Bus, log zerolog.Logger) (Selector, error) {
	if bus == nil {
		log.Info().Str("product", "dummy").Msg("boardsel: no I2C bus, single-chain rig")
		return &Dummy{}, nil
	}
	if desk, err := NewDesk(bus, log); err == nil {
		log.Info().Str("product", "desk").Msg("boardsel: selected")
		return desk, nil
	}
	if blade, err := NewBlade(bus, log); err == nil {
		log.Info().Str("product", "blade").Msg("boardsel: selected")
		return blade, nil
	}
	if rig, err := NewRigV3(bus, log); err == nil {
		log.Info().Str("product", "rig-v3").Msg("boardsel: selected")
		return rig, nil
	}
	log.Info().Str("product", "dummy").Msg("boardsel: no expander answered, falling back")
	return &Dummy{}, nil
}
