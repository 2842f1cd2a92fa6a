// internal/controller/controller.go
package controller

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rumbledeck/rumbledeck/internal/drv"
	"github.com/rumbledeck/rumbledeck/internal/errutil"
	"github.com/rumbledeck/rumbledeck/internal/settings"
)

// Device is the actuator-driver surface the controller drives.
// *drv.Device implements it; tests use a fake.
type Device interface {
	Init() error
	Test() error
	SetStandby(on bool) error
	SetHighZ(on bool) error
	SetLibrary(id byte) error
	ProgramSequence(steps []byte) error
	Play() error
	Stop() error
	TimingOffsets() (drv.TimingOffsets, error)
	SetTimingOffsets(t drv.TimingOffsets) error
	DriveParams() (drv.DriveParams, error)
	SetDriveParams(p drv.DriveParams) error
	Voltage() (float64, error)
	Reset() error
	Status() (drv.Status, error)
	RuntimeState() (standby, hiZ bool, err error)
	Diagnose(cfg drv.DiagConfig) (drv.DiagResult, error)
}

// Router selects the mux channel. *drv.Mux implements it.
type Router interface {
	Select(mask byte) error
}

// Capture is the companion capture subprocess. *sniffer.Sniffer
// implements it.
type Capture interface {
	Start() error
	Stop()
	Running() bool
	Logs() []string
}

// Flags is the live runtime view assembled for callers.
type Flags struct {
	Standby          bool
	HiZ              bool
	SnifferRunning   bool
	MuxEnabled       bool
	AutostartSniffer bool
}

// Controller owns the gate, the settings store and the device handles.
// Every bus-touching operation runs under the one exclusive lock, so at
// most one device transaction is in flight at any time.
type Controller struct {
	mu sync.Mutex // the gate

	dev   Device
	mux   Router
	store *settings.Store
	sniff Capture

	diag drv.DiagConfig
}

// New wires a controller. diag zero-values fall back to the defaults.
func New(dev Device, mux Router, store *settings.Store, sniff Capture) *Controller {
	return &Controller{
		dev:   dev,
		mux:   mux,
		store: store,
		sniff: sniff,
		diag:  drv.DefaultDiagConfig,
	}
}

// withDevice runs op under the gate after routing the mux to the
// currently configured channel. The mux state is re-read from the store
// on every entry, so a config change applies on the very next operation.
func (c *Controller) withDevice(op func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.route(); err != nil {
		return err
	}
	return op()
}

// route resolves the current channel. Callers hold the gate.
func (c *Controller) route() error {
	enabled, mask := c.store.Mux()
	if !enabled {
		return nil
	}
	return c.mux.Select(mask)
}

// ---- init / test ----

// Initialize writes the device bring-up sequence.
func (c *Controller) Initialize() error {
	return c.withDevice(c.dev.Init)
}

// Test pulses the motor three times.
func (c *Controller) Test() error {
	return c.withDevice(c.dev.Test)
}

// Startup brings up one or both channels behind the mux and finishes
// with a test pulse on the active channel(s). Without a mux it is a
// plain init + test.
func (c *Controller) Startup(bothActive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled, _ := c.store.Mux()
	if !enabled {
		if err := c.dev.Init(); err != nil {
			return err
		}
		return c.dev.Test()
	}

	if err := c.mux.Select(drv.ChannelA); err != nil {
		return err
	}
	if err := c.dev.Init(); err != nil {
		return err
	}
	log.Info("driver 1 initialized")

	if bothActive {
		if err := c.mux.Select(drv.ChannelB); err != nil {
			return err
		}
		if err := c.dev.Init(); err != nil {
			return err
		}
		log.Info("driver 2 initialized")

		if err := c.mux.Select(drv.ChannelBoth); err != nil {
			return err
		}
		if err := c.dev.Test(); err != nil {
			return err
		}
		log.Info("both drivers active")
		return nil
	}

	if err := c.mux.Select(drv.ChannelA); err != nil {
		return err
	}
	if err := c.dev.Test(); err != nil {
		return err
	}
	log.Info("driver 1 active")
	return nil
}

// ---- mux configuration ----

// MuxConfig returns the persisted mux configuration.
func (c *Controller) MuxConfig() (enabled bool, mask byte) {
	return c.store.Mux()
}

// SetMuxConfig persists the mux configuration. The new channel takes
// effect on the next device operation; no restart needed.
func (c *Controller) SetMuxConfig(enabled bool, mask byte) error {
	if enabled && !drv.ValidMask(mask) {
		return errors.Wrapf(errutil.ErrInvalidArgument, "mux mask 0x%02X", mask)
	}
	return c.store.SetMux(enabled, mask)
}

// ---- device state ----

// SetStandby drives and persists the standby bit.
func (c *Controller) SetStandby(on bool) error {
	return c.withDevice(func() error {
		if err := c.dev.SetStandby(on); err != nil {
			return err
		}
		return c.store.SetStandby(on)
	})
}

// SetHighZ drives and persists the Hi-Z bit.
func (c *Controller) SetHighZ(on bool) error {
	return c.withDevice(func() error {
		if err := c.dev.SetHighZ(on); err != nil {
			return err
		}
		return c.store.SetHighZ(on)
	})
}

// SetLibrary selects and persists the effect library.
func (c *Controller) SetLibrary(id int) error {
	lib := byte(id)
	return c.withDevice(func() error {
		if err := c.dev.SetLibrary(lib); err != nil {
			return err
		}
		return c.store.SetLastLibrary(lib)
	})
}

// ProgramSequence loads an effect sequence into the device.
func (c *Controller) ProgramSequence(steps []byte) error {
	return c.withDevice(func() error {
		return c.dev.ProgramSequence(steps)
	})
}

// Play starts playback of the programmed sequence.
func (c *Controller) Play() error {
	return c.withDevice(c.dev.Play)
}

// Stop halts playback immediately.
func (c *Controller) Stop() error {
	return c.withDevice(c.dev.Stop)
}

// TimingOffsets reads the live timing offsets.
func (c *Controller) TimingOffsets() (drv.TimingOffsets, error) {
	var t drv.TimingOffsets
	err := c.withDevice(func() error {
		var err error
		t, err = c.dev.TimingOffsets()
		return err
	})
	return t, err
}

// SetTimingOffsets clamps each value to [0,255], writes the registers
// and persists the clamped values.
func (c *Controller) SetTimingOffsets(overdrive, sustainPos, sustainNeg, brake int) error {
	t := drv.TimingOffsets{
		Overdrive:  clampByte(overdrive),
		SustainPos: clampByte(sustainPos),
		SustainNeg: clampByte(sustainNeg),
		Brake:      clampByte(brake),
	}
	return c.withDevice(func() error {
		if err := c.dev.SetTimingOffsets(t); err != nil {
			return err
		}
		return c.store.SetLastOffsets(settings.Offsets{
			Overdrive:  t.Overdrive,
			SustainPos: t.SustainPos,
			SustainNeg: t.SustainNeg,
			Brake:      t.Brake,
		})
	})
}

// DriveParams reads the live drive parameters.
func (c *Controller) DriveParams() (drv.DriveParams, error) {
	var p drv.DriveParams
	err := c.withDevice(func() error {
		var err error
		p, err = c.dev.DriveParams()
		return err
	})
	return p, err
}

// SetDriveParams clamps, writes and persists the drive parameters.
func (c *Controller) SetDriveParams(rated, overdrive int) error {
	p := drv.DriveParams{
		Rated:     clampByte(rated),
		Overdrive: clampByte(overdrive),
	}
	return c.withDevice(func() error {
		if err := c.dev.SetDriveParams(p); err != nil {
			return err
		}
		return c.store.SetLastDrive(settings.Drive{
			Rated:     p.Rated,
			Overdrive: p.Overdrive,
		})
	})
}

// Status takes a status snapshot. The read consumes the chip's latched
// fault bits.
func (c *Controller) Status() (drv.Status, error) {
	var st drv.Status
	err := c.withDevice(func() error {
		var err error
		st, err = c.dev.Status()
		return err
	})
	return st, err
}

// RunDiagnostics drives the hardware self-test to completion or timeout.
// The gate is held for the whole poll, up to a few seconds.
func (c *Controller) RunDiagnostics() (drv.DiagResult, error) {
	var res drv.DiagResult
	err := c.withDevice(func() error {
		var err error
		res, err = c.dev.Diagnose(c.diag)
		return err
	})
	return res, err
}

// QueryVoltage samples the device supply voltage.
func (c *Controller) QueryVoltage() (float64, error) {
	var v float64
	err := c.withDevice(func() error {
		var err error
		v, err = c.dev.Voltage()
		return err
	})
	return v, err
}

// Reset performs a best-effort device soft reset.
func (c *Controller) Reset() error {
	return c.withDevice(c.dev.Reset)
}

// RuntimeFlags assembles the live runtime view: two register reads plus
// in-memory and persisted state.
func (c *Controller) RuntimeFlags() (Flags, error) {
	var f Flags
	err := c.withDevice(func() error {
		standby, hiZ, err := c.dev.RuntimeState()
		if err != nil {
			return err
		}
		f.Standby, f.HiZ = standby, hiZ
		return nil
	})
	if err != nil {
		return Flags{}, err
	}

	rec := c.store.Snapshot()
	f.MuxEnabled = rec.UseMux
	f.AutostartSniffer = rec.AutostartSniffer
	f.SnifferRunning = c.sniff.Running()
	return f, nil
}

// ---- presets ----

// Presets returns all preset names, sorted.
func (c *Controller) Presets() []string {
	return c.store.List()
}

// SavePreset stores a named preset, truncating the program to the
// sequencer depth.
func (c *Controller) SavePreset(name string, lib int, steps []byte) error {
	return c.store.SavePreset(name, byte(lib), steps)
}

// LoadPreset returns a stored preset.
func (c *Controller) LoadPreset(name string) (settings.Preset, error) {
	return c.store.Preset(name)
}

// DeletePreset removes a stored preset.
func (c *Controller) DeletePreset(name string) error {
	return c.store.DeletePreset(name)
}

// ApplyPreset replays a stored preset as a macro under one gate
// acquisition: library select, then sequence program, then play.
func (c *Controller) ApplyPreset(name string) error {
	p, err := c.store.Preset(name)
	if err != nil {
		return err
	}
	return c.withDevice(func() error {
		if err := c.dev.SetLibrary(p.Lib); err != nil {
			return err
		}
		if err := c.store.SetLastLibrary(p.Lib); err != nil {
			return err
		}
		if err := c.dev.ProgramSequence(p.Steps); err != nil {
			return err
		}
		return c.dev.Play()
	})
}

// ---- sniffer ----

// StartSniffer launches the capture subprocess.
func (c *Controller) StartSniffer() error { return c.sniff.Start() }

// StopSniffer terminates the capture subprocess.
func (c *Controller) StopSniffer() { c.sniff.Stop() }

// SnifferLogs drains buffered capture output.
func (c *Controller) SnifferLogs() []string { return c.sniff.Logs() }

// SetAutostartSniffer persists the capture autostart toggle.
func (c *Controller) SetAutostartSniffer(on bool) error {
	return c.store.SetAutostartSniffer(on)
}

// ---- startup reconciliation ----

// Reconcile replays persisted device state onto freshly powered
// hardware. Hi-Z and standby are restored before library, offsets and
// drive params so a reset chip is never left half configured when a
// later step fails. Each step is best-effort: failures are logged and
// the remaining steps still run.
func (c *Controller) Reconcile() {
	rec := c.store.Snapshot()

	c.mu.Lock()
	if err := c.route(); err != nil {
		log.Warnf("reconcile: mux channel not restored: %v", err)
	}

	type step struct {
		name string
		run  func() error
	}
	steps := []step{
		{"hi-z", func() error { return c.dev.SetHighZ(rec.PersistHiZ) }},
		{"standby", func() error { return c.dev.SetStandby(rec.PersistStandby) }},
	}
	if rec.LastLib != nil {
		lib := *rec.LastLib
		steps = append(steps, step{"library", func() error { return c.dev.SetLibrary(lib) }})
	}
	if rec.LastOffsets != nil {
		o := *rec.LastOffsets
		steps = append(steps, step{"timing offsets", func() error {
			return c.dev.SetTimingOffsets(drv.TimingOffsets{
				Overdrive:  o.Overdrive,
				SustainPos: o.SustainPos,
				SustainNeg: o.SustainNeg,
				Brake:      o.Brake,
			})
		}})
	}
	if rec.LastDrive != nil {
		d := *rec.LastDrive
		steps = append(steps, step{"drive params", func() error {
			return c.dev.SetDriveParams(drv.DriveParams{
				Rated:     d.Rated,
				Overdrive: d.Overdrive,
			})
		}})
	}

	for _, st := range steps {
		if err := st.run(); err != nil {
			log.Warnf("reconcile: %s not restored: %v", st.name, err)
		}
	}
	c.mu.Unlock()

	if rec.AutostartSniffer {
		if err := c.sniff.Start(); err != nil {
			log.Warnf("reconcile: sniffer autostart failed: %v", err)
		}
	}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
