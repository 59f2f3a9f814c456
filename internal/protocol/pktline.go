package protocol

import (
	"fmt"
	"io"
	"strconv"

	"github.com/master-wayne7/gitpure/internal/errors"
)

const (
	pktLenSize = 4
	// MaxPktLen is the largest packet, length prefix included.
	MaxPktLen = 65520
	// MaxPayload is the largest payload a single packet carries.
	MaxPayload = MaxPktLen - pktLenSize
)

var flushPkt = []byte("0000")

// Encoder writes pkt-lines.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one data packet.
func (e *Encoder) Encode(data []byte) error {
	if len(data) > MaxPayload {
		return errors.Errorf(errors.ErrProtocol, "pkt-line payload of %d bytes exceeds %d", len(data), MaxPayload)
	}
	if _, err := fmt.Fprintf(e.w, "%04x", len(data)+pktLenSize); err != nil {
		return err
	}
	_, err := e.w.Write(data)
	return err
}

// Encodef writes one formatted data packet.
func (e *Encoder) Encodef(format string, args ...interface{}) error {
	return e.Encode([]byte(fmt.Sprintf(format, args...)))
}

// Flush writes a flush packet.
func (e *Encoder) Flush() error {
	_, err := e.w.Write(flushPkt)
	return err
}

// Decoder reads pkt-lines. It reads exactly the bytes of each packet, so
// the underlying reader can be handed over to a raw stream afterwards.
type Decoder struct {
	r   io.Reader
	buf [MaxPktLen]byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the payload of the next packet, valid until the following
// call. flush is true for a flush packet. io.EOF is returned only at a
// packet boundary.
func (d *Decoder) Next() (payload []byte, flush bool, err error) {
	lenBuf := d.buf[:pktLenSize]
	if _, err := io.ReadFull(d.r, lenBuf); err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		return nil, false, readError(err, "reading pkt-line length")
	}
	n, err := strconv.ParseUint(string(lenBuf), 16, 16)
	if err != nil {
		return nil, false, errors.Errorf(errors.ErrProtocol, "invalid pkt-line length %q", lenBuf)
	}
	if n == 0 {
		return nil, true, nil
	}
	if n < pktLenSize || n > MaxPktLen {
		return nil, false, errors.Errorf(errors.ErrProtocol, "invalid pkt-line length %d", n)
	}
	payload = d.buf[pktLenSize:n]
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, false, readError(err, "reading pkt-line payload")
	}
	return payload, false, nil
}

// readError keeps the kind of an already classified error (a cancelled
// transfer) and reports anything else as a protocol violation.
func readError(err error, msg string) error {
	if errors.KindOf(err) != nil {
		return errors.Wrap(err, msg)
	}
	return errors.E(errors.ErrProtocol, errors.Wrap(err, msg))
}
