package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"kissgate/aprs"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "kissgate.toml"

// Modem types
const (
	ModemTCP    = "tcp"
	ModemSerial = "serial"
	ModemNone   = "none"
)

var (
	ErrNoCallsign   = errors.New("station callsign not set")
	ErrInvalidPort  = errors.New("port out of range")
	ErrInvalidModem = errors.New("unknown modem type")
	ErrInvalidTick  = errors.New("scheduler tick must be positive")
	ErrNoMode       = errors.New("no mode selected, activate one of kiss, aprsis or digi")
	ErrNoPosition   = errors.New("beacon needs a valid station gridsquare")
)

// Config holds all application configuration
type Config struct {
	Station   StationConfig   `toml:"station"`
	KISS      KISSConfig      `toml:"kiss"`
	Modem     ModemConfig     `toml:"modem"`
	APRSIS    APRSISConfig    `toml:"aprsis"`
	Digi      DigiConfig      `toml:"digi"`
	Beacon    BeaconConfig    `toml:"beacon"`
	MQTT      MQTTConfig      `toml:"mqtt"`
	Display   DisplayConfig   `toml:"display"`
	Log       LogConfig       `toml:"log"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// StationConfig holds settings specific to the user's station
type StationConfig struct {
	Callsign   string `toml:"callsign"`
	Passcode   int    `toml:"passcode"`
	GridSquare string `toml:"gridsquare"`
}

// KISSConfig controls the KISS-over-TCP bridge for client applications.
type KISSConfig struct {
	Active   bool   `toml:"active"`
	Port     int    `toml:"port"`
	Announce bool   `toml:"announce"`
	Name     string `toml:"name"`
}

// ModemConfig selects the radio-side TNC.
type ModemConfig struct {
	Type   string `toml:"type"`
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

type APRSISConfig struct {
	Active bool   `toml:"active"`
	Server string `toml:"server"`
	Filter string `toml:"filter"`
}

// DigiConfig turns on WIDEn-N digipeating of packets heard on RF.
type DigiConfig struct {
	Active     bool          `toml:"active"`
	DupeWindow time.Duration `toml:"dupe_window"`
}

// BeaconConfig controls the station's own position beacon.
type BeaconConfig struct {
	Active   bool          `toml:"active"`
	Interval time.Duration `toml:"interval"`
	Path     string        `toml:"path"`
	Message  string        `toml:"message"`
}

// MQTTConfig forwards heard packets to an MQTT broker.
type MQTTConfig struct {
	Active   bool   `toml:"active"`
	Server   string `toml:"server"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Topic    string `toml:"topic"`
}

type DisplayConfig struct {
	Active    bool   `toml:"active"`
	Shapefile string `toml:"shapefile"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type SchedulerConfig struct {
	Tick time.Duration `toml:"tick"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		KISS: KISSConfig{
			Active: true,
			Port:   8001,
		},
		Modem: ModemConfig{
			Type:   ModemSerial,
			Device: "/dev/ttyUSB0",
			Baud:   9600,
		},
		APRSIS: APRSISConfig{
			Server: "rotate.aprs.net:14580",
		},
		Digi: DigiConfig{
			DupeWindow: 30 * time.Second,
		},
		Beacon: BeaconConfig{
			Interval: 15 * time.Minute,
			Path:     "WIDE1-1",
			Message:  "kissgate",
		},
		MQTT: MQTTConfig{
			Server: "tcp://localhost:1883",
			Topic:  "aprs",
		},
		Log: LogConfig{
			Level: "info",
		},
		Scheduler: SchedulerConfig{
			Tick: 10 * time.Millisecond,
		},
	}
}

// Load reads the configuration from path on top of the defaults and
// validates the result. Unknown keys are returned so the caller can warn
// about them.
func Load(path string) (Config, []string, error) {
	conf := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return conf, nil, err
	}

	md, err := toml.Decode(string(data), &conf)
	if err != nil {
		return conf, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}

	conf.normalize()
	if err := conf.Validate(); err != nil {
		return conf, unknown, fmt.Errorf("%s: %w", path, err)
	}

	return conf, unknown, nil
}

func (c *Config) normalize() {
	c.Station.Callsign = strings.ToUpper(strings.TrimSpace(c.Station.Callsign))
	c.Modem.Type = strings.ToLower(strings.TrimSpace(c.Modem.Type))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate checks the settings the gateway cannot start without.
func (c Config) Validate() error {
	base, _, _ := strings.Cut(c.Station.Callsign, "-")
	switch base {
	case "", "N0CALL", "NOCALL":
		return fmt.Errorf("%w: %q", ErrNoCallsign, c.Station.Callsign)
	}

	if c.KISS.Active && (c.KISS.Port < 1 || c.KISS.Port > 65535) {
		return fmt.Errorf("kiss: %w: %d", ErrInvalidPort, c.KISS.Port)
	}

	switch c.Modem.Type {
	case ModemTCP, ModemSerial:
		if c.Modem.Device == "" {
			return fmt.Errorf("modem: %s device not set", c.Modem.Type)
		}
	case ModemNone:
	default:
		return fmt.Errorf("modem: %w: %q", ErrInvalidModem, c.Modem.Type)
	}

	if c.Modem.Type == ModemSerial && c.Modem.Baud <= 0 {
		return fmt.Errorf("modem: invalid baud rate %d", c.Modem.Baud)
	}

	if c.APRSIS.Active && c.APRSIS.Server == "" {
		return errors.New("aprsis: server not set")
	}

	if !c.KISS.Active && !c.APRSIS.Active && !c.Digi.Active {
		return ErrNoMode
	}

	if c.Digi.Active && c.Digi.DupeWindow < 0 {
		return fmt.Errorf("digi: negative dupe window %s", c.Digi.DupeWindow)
	}

	if c.Beacon.Active {
		if c.Beacon.Interval < time.Minute {
			return fmt.Errorf("beacon: interval %s is shorter than a minute", c.Beacon.Interval)
		}
		if _, _, err := aprs.GridSquareToLatLon(c.Station.GridSquare); err != nil {
			return fmt.Errorf("beacon: %w: %w", ErrNoPosition, err)
		}
	}

	if c.MQTT.Active && (c.MQTT.Server == "" || c.MQTT.Topic == "") {
		return errors.New("mqtt: server and topic must be set")
	}

	if c.Scheduler.Tick <= 0 {
		return ErrInvalidTick
	}

	return nil
}
