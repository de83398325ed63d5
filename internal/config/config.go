package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BusConfig describes the GPIO wiring of the parallel display bus.
//
// The defaults match the 26-pin Inland / Kuman / MCUfriend 3.5" TFT shields
// strapped for 8-bit 8080 mode.
type BusConfig struct {
	// Width is the bus width in bits: 8, 12 or 16. Zero derives the width
	// from the data pin list; a non-zero value must match it.
	Width int `yaml:"width"`

	// DataPins lists the BCM numbers of the data lines, DB0 first.
	// The list length is the bus width.
	DataPins []int `yaml:"data_pins"`

	// WRPin is the active-low write strobe.
	WRPin int `yaml:"wr_pin"`

	// DCPin selects between command (low) and data (high) bus words.
	DCPin int `yaml:"dc_pin"`

	// RSTPin is the active-low hardware reset line.
	RSTPin int `yaml:"rst_pin"`

	// CSPin is the active-low chip select. Use -1 if the line is tied low
	// on the board instead of wired to a GPIO.
	CSPin int `yaml:"cs_pin"`

	// RDPin is the active-low read strobe. It is never asserted; the pin is
	// only driven high so the panel cannot float into read mode. Use -1 if
	// not wired.
	RDPin int `yaml:"rd_pin"`
}

// Config is the top-level application configuration.
type Config struct {
	// FBDevice is the source framebuffer to mirror (e.g. "/dev/fb0").
	FBDevice string `yaml:"fb_device"`

	// Rotation is the panel orientation in degrees: 0, 90, 180 or 270.
	// 90 and 270 give the 480x320 landscape layout.
	Rotation int `yaml:"rotation"`

	// FPS is the mirror target frame rate, clamped to 1..60.
	FPS int `yaml:"fps"`

	// Bus is the GPIO wiring of the parallel bus.
	Bus BusConfig `yaml:"bus"`

	// BlankCron is a cron-style schedule (e.g. "0 0 * * *") at which the
	// display is switched off while the mirror keeps running. Empty
	// disables scheduled blanking.
	BlankCron string `yaml:"blank_cron"`

	// WakeCron is the schedule at which a blanked display is switched back
	// on (e.g. "0 7 * * *").
	WakeCron string `yaml:"wake_cron"`
}

// DefaultBus returns the stock shield pin map.
func DefaultBus() BusConfig {
	return BusConfig{
		Width:    8,
		DataPins: []int{9, 11, 10, 22, 27, 17, 4, 3},
		WRPin:    23,
		DCPin:    24,
		RSTPin:   25,
		CSPin:    8,
		RDPin:    18,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		FBDevice: "/dev/fb0",
		Rotation: 270,
		FPS:      30,
		Bus:      DefaultBus(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.FBDevice == "" {
		c.FBDevice = "/dev/fb0"
	}

	// Rotation default & validation. Unknown angles fall back to the same
	// default the panel driver uses.
	switch c.Rotation {
	case 0, 90, 180, 270:
		// ok
	default:
		c.Rotation = 270
	}

	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.FPS > 60 {
		c.FPS = 60
	}

	// A config without a bus block gets the stock shield wiring.
	if len(c.Bus.DataPins) == 0 {
		c.Bus = DefaultBus()
	}
	if c.Bus.Width == 0 {
		c.Bus.Width = len(c.Bus.DataPins)
	}
}

// Validate reports wiring mistakes that Normalize cannot repair.
func (c *Config) Validate() error {
	switch len(c.Bus.DataPins) {
	case 8, 12, 16:
	default:
		return fmt.Errorf("config: bus has %d data pins, want 8, 12 or 16", len(c.Bus.DataPins))
	}
	if c.Bus.Width != len(c.Bus.DataPins) {
		return fmt.Errorf("config: bus width %d does not match %d data pins", c.Bus.Width, len(c.Bus.DataPins))
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".tftmirror-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function:
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
