// Package kiss implements KISS framing of AX.25 UI frames and the TCP
// bridge that exchanges them with a KISS client application.
package kiss

import (
	"errors"
	"fmt"

	"kissgate/ax25"
)

// KISS protocol constants
const (
	FEND  byte = 0xC0 // Frame End
	FESC  byte = 0xDB // Frame Escape
	TFEND byte = 0xDC // Transposed Frame End
	TFESC byte = 0xDD // Transposed Frame Escape

	CmdDataPort0 byte = 0x00 // Data frame on port 0
)

var ErrInvalidDelimiters = errors.New("invalid KISS delimiters")

// Stuff escapes every FEND and FESC in body.
func Stuff(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(body)/8)
	for _, b := range body {
		switch b {
		case FEND:
			out = append(out, FESC, TFEND)
		case FESC:
			out = append(out, FESC, TFESC)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unstuff reverses Stuff into a fresh buffer and reports how many bytes
// the escapes took up. A FESC not followed by TFEND or TFESC is kept as is.
func Unstuff(body []byte) (out []byte, removed int) {
	out = make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] == FESC && i+1 < len(body) {
			switch body[i+1] {
			case TFEND:
				out = append(out, FEND)
				i++
				removed++
				continue
			case TFESC:
				out = append(out, FESC)
				i++
				removed++
				continue
			}
		}
		out = append(out, body[i])
	}
	return out, removed
}

// Wrap stuffs body and frames it as a data frame for port 0.
func Wrap(body []byte) []byte {
	stuffed := Stuff(body)
	frame := make([]byte, 0, len(stuffed)+3)
	frame = append(frame, FEND, CmdDataPort0)
	frame = append(frame, stuffed...)
	return append(frame, FEND)
}

// Unwrap checks the delimiters of the data frame at the start of buf and
// returns its unstuffed body. The frame ends at the first FEND after the
// command byte; whatever follows is returned in rest and is not part of
// this frame.
func Unwrap(buf []byte) (body, rest []byte, err error) {
	if len(buf) < 3 || buf[0] != FEND || buf[1] != CmdDataPort0 {
		return nil, nil, fmt.Errorf("%w %s", ErrInvalidDelimiters, delimiterDump(buf))
	}

	end := -1
	for i := 2; i < len(buf); i++ {
		if buf[i] == FEND {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, nil, fmt.Errorf("%w %s", ErrInvalidDelimiters, delimiterDump(buf))
	}

	body, _ = Unstuff(buf[2:end])
	return body, buf[end+1:], nil
}

// Encode converts a monitor format packet into a KISS data frame.
func Encode(text string) ([]byte, error) {
	f, err := ax25.ParseText(text)
	if err != nil {
		return nil, err
	}
	body, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return Wrap(body), nil
}

// DecodeFrame parses the KISS data frame at the start of buf. Bytes after
// the closing FEND come back in rest; no state is kept for them.
func DecodeFrame(buf []byte) (f ax25.Frame, rest []byte, err error) {
	body, rest, err := Unwrap(buf)
	if err != nil {
		return ax25.Frame{}, nil, err
	}
	f, err = ax25.ParseFrame(body)
	if err != nil {
		return ax25.Frame{}, nil, err
	}
	return f, rest, nil
}

// Decode converts the KISS data frame at the start of buf into monitor
// format. Bytes after the closing FEND are dropped.
func Decode(buf []byte) (string, error) {
	f, _, err := DecodeFrame(buf)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

func delimiterDump(buf []byte) string {
	switch len(buf) {
	case 0:
		return "(empty)"
	case 1:
		return fmt.Sprintf("%02X", buf[0])
	default:
		return fmt.Sprintf("%02X %02X ... %02X", buf[0], buf[1], buf[len(buf)-1])
	}
}
