// Package led drives a board LED as the camera's tally light.
package led

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pattern is the state shown by the LED.
type Pattern string

// LED patterns.
const (
	PatternOff   Pattern = "off"
	PatternSolid Pattern = "solid"
	PatternBlink Pattern = "blink"
)

// Auto selects the LED from the board model.
const Auto = "auto"

const (
	sysfsLEDPath        = "/sys/class/leds"
	deviceTreeModelPath = "/proc/device-tree/model"
)

// Controller switches one LED.
type Controller interface {
	Set(p Pattern) error
	Name() string
}

// boardLEDs maps device tree models to the LED used as tally.
var boardLEDs = []struct{ model, led string }{
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
}

// New returns a controller for the sysfs LED name. An empty name disables the
// tally; Auto picks the LED of a known board and falls back to no-op.
func New(name string, logger *slog.Logger) Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if name == Auto {
		model := detectBoard()
		name = ""
		for _, b := range boardLEDs {
			if strings.Contains(model, b.model) {
				name = b.led
				break
			}
		}
		logger.Info("Detected board for tally LED", "board_model", model, "led", name)
	}
	if name == "" {
		return noop{logger: logger}
	}
	return &sysfs{root: sysfsLEDPath, name: name}
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated.
	return strings.TrimRight(string(data), "\x00")
}

// sysfs drives /sys/class/leds/<name> through its trigger and brightness files.
type sysfs struct {
	root string
	name string
}

func (s *sysfs) Name() string { return s.name }

func (s *sysfs) Set(p Pattern) error {
	dir := filepath.Join(s.root, s.name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", s.name, dir, err)
	}

	trigger, brightness := "none", "0"
	switch p {
	case PatternOff:
	case PatternSolid:
		brightness = "1"
	case PatternBlink:
		trigger, brightness = "heartbeat", "1"
	default:
		return fmt.Errorf("unknown LED pattern %q", p)
	}

	if err := os.WriteFile(filepath.Join(dir, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("failed to set LED trigger: %w", err)
	}
	if trigger != "none" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

// noop logs instead of switching an LED.
type noop struct {
	logger *slog.Logger
}

func (n noop) Name() string { return "" }

func (n noop) Set(p Pattern) error {
	n.logger.Debug("Tally LED not available (no-op)", "pattern", p)
	return nil
}
