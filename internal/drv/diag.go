// internal/drv/diag.go
package drv

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// DiagConfig bounds the diagnostics poll loop.
type DiagConfig struct {
	Interval time.Duration // delay between GO polls
	Attempts int           // poll budget before giving up
}

// DefaultDiagConfig caps the wait at roughly three seconds.
var DefaultDiagConfig = DiagConfig{
	Interval: 10 * time.Millisecond,
	Attempts: 300,
}

// DiagResult reports one diagnostics run. Status is filled even on
// timeout; the chip may still be mid-test in that case.
type DiagResult struct {
	Pass     bool
	TimedOut bool
	Status   Status
}

// Diagnose runs the hardware self-test: select diagnostics mode, assert
// GO, poll until GO self-clears or the attempt budget runs out, then
// snapshot status. The final status read clears the latched fault bits.
func (d *Device) Diagnose(cfg DiagConfig) (DiagResult, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDiagConfig.Interval
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultDiagConfig.Attempts
	}

	var res DiagResult

	if _, err := d.Bus.UpdateReg(d.Addr, RegMode, modeStandby|modeMask, modeDiagnostics); err != nil {
		return res, err
	}
	if err := d.Bus.WriteReg(d.Addr, RegGo, goBit); err != nil {
		return res, err
	}

	done := false
	for i := 0; i < cfg.Attempts; i++ {
		raw, err := d.Bus.ReadReg(d.Addr, RegGo, 1)
		if err != nil {
			return res, err
		}
		if raw[0]&goBit == 0 {
			done = true
			break
		}
		sleep(cfg.Interval)
	}

	st, err := d.Status()
	if err != nil {
		return res, err
	}
	res.Status = st
	res.Pass = done && !st.DiagFailed

	if !done {
		res.TimedOut = true
		return res, errors.Wrapf(errutil.ErrTimeout,
			"diagnostics still busy after %d polls", cfg.Attempts)
	}
	return res, nil
}
