// internal/config/validate.go
package config

import "fmt"

// 7-bit addressing with the reserved ranges excluded.
const (
	minDeviceAddr = 0x08
	maxDeviceAddr = 0x77
)

// Validate checks configuration correctness. It performs declarative
// validation only and MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Bus < 0 {
		return fmt.Errorf("bus number %d is negative", cfg.Bus)
	}
	if cfg.DrvAddr < minDeviceAddr || cfg.DrvAddr > maxDeviceAddr {
		return fmt.Errorf(
			"drv_addr 0x%02X outside the 7-bit device range 0x%02X-0x%02X",
			cfg.DrvAddr, minDeviceAddr, maxDeviceAddr,
		)
	}
	if cfg.MuxAddr < minDeviceAddr || cfg.MuxAddr > maxDeviceAddr {
		return fmt.Errorf(
			"mux_addr 0x%02X outside the 7-bit device range 0x%02X-0x%02X",
			cfg.MuxAddr, minDeviceAddr, maxDeviceAddr,
		)
	}
	if cfg.DrvAddr == cfg.MuxAddr {
		return fmt.Errorf("drv_addr and mux_addr both 0x%02X", cfg.DrvAddr)
	}
	return nil
}
