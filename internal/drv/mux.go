// internal/drv/mux.go
package drv

// Channel masks for the multiplexer control register.
const (
	ChannelA    = 0x01
	ChannelB    = 0x02
	ChannelBoth = ChannelA | ChannelB
)

// muxControl is the multiplexer's single control register.
const muxControl = 0x00

// Mux is the I2C channel multiplexer (TCA9548A-class) sitting in front
// of the actuator drivers.
type Mux struct {
	Bus  RegisterBus
	Addr uint16
}

// Select routes downstream bus traffic to the channels in mask.
func (m *Mux) Select(mask byte) error {
	return m.Bus.WriteReg(m.Addr, muxControl, mask)
}

// ValidMask reports whether mask selects a known channel combination.
func ValidMask(mask byte) bool {
	switch mask {
	case ChannelA, ChannelB, ChannelBoth:
		return true
	}
	return false
}
