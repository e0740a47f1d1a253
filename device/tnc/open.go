package tnc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"

	"kissgate/config"
)

// DialTimeout bounds the TCP connect to a network TNC.
const DialTimeout = 10 * time.Second

// OpenFunc opens the byte stream to a TNC. It may block; the Modem only
// calls it from a helper goroutine after the first connection.
type OpenFunc func() (io.ReadWriteCloser, error)

// FromConfig returns the OpenFunc for the configured modem. A nil OpenFunc
// with a nil error means no modem is attached.
func FromConfig(conf config.ModemConfig) (OpenFunc, error) {
	switch conf.Type {
	case config.ModemTCP:
		return OpenTCP(conf.Device)
	case config.ModemSerial:
		return OpenSerial(conf.Device, conf.Baud)
	case config.ModemNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidModem, conf.Type)
	}
}

// OpenTCP dials a KISS TNC at the given address (e.g., "192.168.1.30:8001")
func OpenTCP(address string) (OpenFunc, error) {
	if address == "" {
		return nil, errors.New("no device address (host:port) provided for KISS TCP")
	}

	return func() (io.ReadWriteCloser, error) {
		conn, err := net.DialTimeout("tcp", address, DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to KISS TNC at %s: %w", address, err)
		}
		return conn, nil
	}, nil
}

// OpenSerial opens a serial KISS TNC. Reads block until data arrives;
// closing the port releases the reader.
func OpenSerial(devicePath string, baud int) (OpenFunc, error) {
	if devicePath == "" {
		return nil, errors.New("no device path (e.g., /dev/ttyUSB0 or COM3) provided for KISS serial")
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(devicePath, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", devicePath, err)
		}
		return port, nil
	}, nil
}
