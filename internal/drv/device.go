// internal/drv/device.go
package drv

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// RegisterBus is the register-level access the device model needs.
// i2c.Bus implements it; tests use a fake.
type RegisterBus interface {
	WriteReg(addr uint16, reg byte, data ...byte) error
	ReadReg(addr uint16, reg byte, n int) ([]byte, error)
	UpdateReg(addr uint16, reg byte, clear, set byte) (byte, error)
}

// sleep is swapped out in tests.
var sleep = time.Sleep

// Device drives one DRV2605-class chip at Addr. Every method issues bus
// traffic; callers serialize access through the controller gate.
type Device struct {
	Bus  RegisterBus
	Addr uint16
}

// TimingOffsets are the four waveform timing offset registers.
type TimingOffsets struct {
	Overdrive  byte
	SustainPos byte
	SustainNeg byte
	Brake      byte
}

// DriveParams are the rated-voltage and overdrive-clamp registers.
type DriveParams struct {
	Rated     byte
	Overdrive byte
}

// Status is one decoded snapshot of the status, mode and library
// registers.
type Status struct {
	DeviceID   byte
	DeviceName string

	DiagFailed      bool
	FeedbackTimeout bool
	OverTemp        bool
	OverCurrent     bool

	Standby bool
	HiZ     bool
	Library byte
}

// initSequence is the fixed bring-up written by Init: feedback and
// actuator calibration constants first, then library select, then mode.
// The order must not change.
var initSequence = []struct{ reg, val byte }{
	{RegRatedVoltage, 126},
	{RegODClamp, 150},
	{RegFeedback, 54},
	{RegCtrl1, 147},
	{RegCtrl2, 245},
	{RegCtrl3, 168},
	{RegLibrary, 1},
	{RegMode, 0},
}

// Init writes the bring-up sequence.
func (d *Device) Init() error {
	for _, w := range initSequence {
		if err := d.Bus.WriteReg(d.Addr, w.reg, w.val); err != nil {
			return err
		}
	}
	return nil
}

// Test pulses GO three times with a fixed gap. It blocks for the whole
// run and expects to hold the gate throughout.
func (d *Device) Test() error {
	for i := 0; i < 3; i++ {
		if err := d.Bus.WriteReg(d.Addr, RegGo, goBit); err != nil {
			return err
		}
		sleep(200 * time.Millisecond)
	}
	return nil
}

// SetStandby drives the mode register's standby bit.
func (d *Device) SetStandby(on bool) error {
	var err error
	if on {
		_, err = d.Bus.UpdateReg(d.Addr, RegMode, 0, modeStandby)
	} else {
		_, err = d.Bus.UpdateReg(d.Addr, RegMode, modeStandby, 0)
	}
	return err
}

// SetHighZ drives the library register's Hi-Z bit.
func (d *Device) SetHighZ(on bool) error {
	var err error
	if on {
		_, err = d.Bus.UpdateReg(d.Addr, RegLibrary, 0, libHiZ)
	} else {
		_, err = d.Bus.UpdateReg(d.Addr, RegLibrary, libHiZ, 0)
	}
	return err
}

// SetLibrary selects the effect library.
func (d *Device) SetLibrary(id byte) error {
	return d.Bus.WriteReg(d.Addr, RegLibrary, id)
}

// ProgramSequence loads up to 8 steps into the waveform sequencer. A
// step is an effect id (1-127) or a wait with the high bit set (low 7
// bits are 10 ms ticks). A program shorter than 8 slots gets a zero
// terminator appended so playback stops after the last step.
func (d *Device) ProgramSequence(steps []byte) error {
	if len(steps) > SeqSlots {
		return errors.Wrapf(errutil.ErrInvalidArgument,
			"sequence has %d steps, sequencer holds %d", len(steps), SeqSlots)
	}
	buf := append(make([]byte, 0, SeqSlots), steps...)
	if len(buf) < SeqSlots && (len(buf) == 0 || buf[len(buf)-1] != 0) {
		buf = append(buf, 0)
	}
	for i, step := range buf {
		if err := d.Bus.WriteReg(d.Addr, RegWaveSeq+byte(i), step); err != nil {
			return err
		}
	}
	return nil
}

// Play switches to internal-trigger mode (clearing standby) and asserts
// GO.
func (d *Device) Play() error {
	if _, err := d.Bus.UpdateReg(d.Addr, RegMode, modeStandby|modeMask, modeInternalTrigger); err != nil {
		return err
	}
	return d.Bus.WriteReg(d.Addr, RegGo, goBit)
}

// Stop sets the standby bit, halting playback immediately. The next Play
// clears it again.
func (d *Device) Stop() error {
	_, err := d.Bus.UpdateReg(d.Addr, RegMode, 0, modeStandby)
	return err
}

// TimingOffsets reads the four timing offset registers in one burst.
func (d *Device) TimingOffsets() (TimingOffsets, error) {
	raw, err := d.Bus.ReadReg(d.Addr, RegOverdriveOffset, 4)
	if err != nil {
		return TimingOffsets{}, err
	}
	return TimingOffsets{
		Overdrive:  raw[0],
		SustainPos: raw[1],
		SustainNeg: raw[2],
		Brake:      raw[3],
	}, nil
}

// SetTimingOffsets writes the four timing offset registers.
func (d *Device) SetTimingOffsets(t TimingOffsets) error {
	return d.Bus.WriteReg(d.Addr, RegOverdriveOffset,
		t.Overdrive, t.SustainPos, t.SustainNeg, t.Brake)
}

// DriveParams reads the rated-voltage and overdrive-clamp registers.
func (d *Device) DriveParams() (DriveParams, error) {
	raw, err := d.Bus.ReadReg(d.Addr, RegRatedVoltage, 2)
	if err != nil {
		return DriveParams{}, err
	}
	return DriveParams{Rated: raw[0], Overdrive: raw[1]}, nil
}

// SetDriveParams writes the rated-voltage and overdrive-clamp registers.
func (d *Device) SetDriveParams(p DriveParams) error {
	return d.Bus.WriteReg(d.Addr, RegRatedVoltage, p.Rated, p.Overdrive)
}

// vbatVolts converts the raw VBAT byte; 5.6 V full scale per datasheet.
func vbatVolts(raw byte) float64 {
	return float64(raw) * 5.6 / 255.0
}

// staleVoltage is the threshold below which a VBAT sample is considered
// stale rather than a real supply reading.
const staleVoltage = 0.1

// Voltage samples VBAT and converts it to volts. The chip only refreshes
// VBAT while active, so a near-zero reading gets one retry after a brief
// GO pulse.
func (d *Device) Voltage() (float64, error) {
	raw, err := d.Bus.ReadReg(d.Addr, RegVbat, 1)
	if err != nil {
		return 0, err
	}
	volts := vbatVolts(raw[0])
	if volts <= staleVoltage {
		if err := d.Bus.WriteReg(d.Addr, RegGo, goBit); err != nil {
			return 0, err
		}
		sleep(30 * time.Millisecond)
		raw, err = d.Bus.ReadReg(d.Addr, RegVbat, 1)
		if err != nil {
			return 0, err
		}
		volts = vbatVolts(raw[0])
	}
	return volts, nil
}

// Reset performs a best-effort soft reset: clear GO, enter standby,
// pulse Hi-Z, leave standby. The initial GO clear may fail when GO is
// already clear, which is tolerated.
func (d *Device) Reset() error {
	_ = d.Bus.WriteReg(d.Addr, RegGo, 0)

	if err := d.resetSequence(); err != nil {
		return errors.Wrapf(errutil.ErrResetFailed, "%v", err)
	}
	return nil
}

func (d *Device) resetSequence() error {
	if err := d.SetStandby(true); err != nil {
		return err
	}
	if err := d.SetHighZ(true); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	if err := d.SetHighZ(false); err != nil {
		return err
	}
	return d.SetStandby(false)
}

// Status reads the status, mode and library registers and decodes them.
// Reading the status register clears the latched fault bits on the chip,
// so every call is a consuming read.
func (d *Device) Status() (Status, error) {
	st, err := d.Bus.ReadReg(d.Addr, RegStatus, 1)
	if err != nil {
		return Status{}, err
	}
	md, err := d.Bus.ReadReg(d.Addr, RegMode, 1)
	if err != nil {
		return Status{}, err
	}
	lib, err := d.Bus.ReadReg(d.Addr, RegLibrary, 1)
	if err != nil {
		return Status{}, err
	}

	id := st[0] >> statusDeviceIDShift
	return Status{
		DeviceID:        id,
		DeviceName:      DeviceName(id),
		DiagFailed:      st[0]&statusDiagFailed != 0,
		FeedbackTimeout: st[0]&statusFeedbackTimeout != 0,
		OverTemp:        st[0]&statusOverTemp != 0,
		OverCurrent:     st[0]&statusOverCurrent != 0,
		Standby:         md[0]&modeStandby != 0,
		HiZ:             lib[0]&libHiZ != 0,
		Library:         lib[0] & libMask,
	}, nil
}

// RuntimeState reads the live standby and Hi-Z bits without touching the
// latched status register.
func (d *Device) RuntimeState() (standby, hiZ bool, err error) {
	md, err := d.Bus.ReadReg(d.Addr, RegMode, 1)
	if err != nil {
		return false, false, err
	}
	lib, err := d.Bus.ReadReg(d.Addr, RegLibrary, 1)
	if err != nil {
		return false, false, err
	}
	return md[0]&modeStandby != 0, lib[0]&libHiZ != 0, nil
}
