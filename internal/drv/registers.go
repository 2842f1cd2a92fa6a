// internal/drv/registers.go
package drv

// DRV2605 register map. Names, addresses and field layouts from the
// datasheet.
const (
	RegStatus  = 0x00
	RegMode    = 0x01
	RegLibrary = 0x03
	RegWaveSeq = 0x04 // 8 sequencer slots, 0x04-0x0B
	RegGo      = 0x0C

	// Timing offsets, four contiguous registers.
	RegOverdriveOffset = 0x0D
	RegSustainPos      = 0x0E
	RegSustainNeg      = 0x0F
	RegBrake           = 0x10

	// Drive parameters, two contiguous registers.
	RegRatedVoltage = 0x16
	RegODClamp      = 0x17

	RegFeedback = 0x1A
	RegCtrl1    = 0x1B
	RegCtrl2    = 0x1C
	RegCtrl3    = 0x1D

	RegVbat = 0x21
)

// Mode register fields.
const (
	modeStandby = 1 << 6
	modeMask    = 0x07

	modeInternalTrigger = 0x00
	modeDiagnostics     = 0x06
)

// Library register fields.
const (
	libHiZ  = 1 << 4
	libMask = 0x07
)

// Status register fields. Reading the register clears the latched fault
// bits below the device id.
const (
	statusDeviceIDShift   = 5
	statusDiagFailed      = 1 << 3
	statusFeedbackTimeout = 1 << 2
	statusOverTemp        = 1 << 1
	statusOverCurrent     = 1 << 0
)

const goBit = 0x01

// SeqSlots is the number of waveform sequencer slots.
const SeqSlots = 8

var deviceNames = map[byte]string{
	3: "DRV2605",
	4: "DRV2604",
	6: "DRV2604L",
	7: "DRV2605L",
}

// DeviceName resolves the 3-bit device id from the status register to a
// part name.
func DeviceName(id byte) string {
	if name, ok := deviceNames[id]; ok {
		return name
	}
	return "unknown"
}
