// internal/config/config.go
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults match the documented hardware addressing: DRV2605 at 0x5A,
// TCA9548A-class mux at 0x70, bus 0.
const (
	DefaultBus     = 0
	DefaultDrvAddr = 0x5A
	DefaultMuxAddr = 0x70
)

// Environment overrides. Address values accept hex (0x5A) or decimal.
const (
	envBus     = "RUMBLEDECK_I2C_BUS"
	envDrvAddr = "RUMBLEDECK_DRV_ADDR"
	envMuxAddr = "RUMBLEDECK_MUX_ADDR"
)

// Config is the daemon configuration document.
type Config struct {
	Bus     int    `yaml:"bus"`
	DrvAddr uint16 `yaml:"drv_addr"`
	MuxAddr uint16 `yaml:"mux_addr"`

	// SettingsPath empty means the per-user default location.
	SettingsPath string `yaml:"settings_path"`

	// SnifferPath is the capture binary; empty disables the sniffer.
	SnifferPath string `yaml:"sniffer_path"`
}

// Load builds a Config from defaults, an optional YAML file and the
// environment, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Bus:     DefaultBus,
		DrvAddr: DefaultDrvAddr,
		MuxAddr: DefaultMuxAddr,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envBus); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s=%q", envBus, v)
		}
		cfg.Bus = n
	}
	if v := os.Getenv(envDrvAddr); v != "" {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return errors.Wrapf(err, "parse %s=%q", envDrvAddr, v)
		}
		cfg.DrvAddr = uint16(n)
	}
	if v := os.Getenv(envMuxAddr); v != "" {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return errors.Wrapf(err, "parse %s=%q", envMuxAddr, v)
		}
		cfg.MuxAddr = uint16(n)
	}
	return nil
}
