package kiss

import (
	"bufio"
	"io"
)

// maxFrameLen bounds a reassembled frame; anything longer is line noise.
const maxFrameLen = 2048

// StreamFrame is one KISS frame read from a byte stream.
type StreamFrame struct {
	Port    byte // Upper nybble of the type byte
	Command byte // Lower nybble, 0 for data
	Body    []byte
}

// IsData reports whether the frame carries an AX.25 frame.
func (f StreamFrame) IsData() bool {
	return f.Command == 0
}

// Decoder reassembles KISS frames from a byte stream. Unlike Decode it
// keeps partial frames across reads, so it suits a serial TNC where frames
// arrive a few bytes at a time.
type Decoder struct {
	r      *bufio.Reader
	synced bool

	buf      []byte // Raw bytes of the frame being assembled
	overflow bool   // Current frame passed maxFrameLen, skip to the next FEND
}

// NewDecoder creates a new KISS frame decoder
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   bufio.NewReader(r),
		buf: make([]byte, 0, maxFrameLen),
	}
}

// ReadFrame blocks until the next non-empty frame is complete.
// Bytes before the first FEND are discarded. Memory stays bounded by
// maxFrameLen however long the line goes without a FEND.
func (d *Decoder) ReadFrame() (StreamFrame, error) {
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return StreamFrame{}, err
		}

		if !d.synced {
			d.synced = c == FEND
			continue
		}

		if c != FEND {
			if d.overflow {
				continue
			}
			if len(d.buf) == maxFrameLen {
				d.overflow = true
				d.buf = d.buf[:0]
				continue
			}
			d.buf = append(d.buf, c)
			continue
		}

		// The closing FEND doubles as the opening one of the next frame,
		// so FEND FEND is just an empty frame to skip.
		if d.overflow || len(d.buf) == 0 {
			d.overflow = false
			d.buf = d.buf[:0]
			continue
		}

		body, _ := Unstuff(d.buf)
		d.buf = d.buf[:0]
		return StreamFrame{
			Port:    body[0] >> 4,
			Command: body[0] & 0x0F,
			Body:    body[1:],
		}, nil
	}
}
