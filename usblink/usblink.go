/*Package usblink carries telegrams over a USB bulk endpoint pair, for
targets whose debug monitor sits behind the on-chip USB device instead of a
UART.

Framing follows the bulk transfer layer of USB Test and Measurement Class:
every bulk-out transfer starts with a 12 byte header carrying a message ID,
a bTag and its inverse, and the payload length, and is padded to a multiple
of 4 bytes.  A read is a request-dev-dep-msg-in header on the out endpoint
followed by a bulk-in transfer whose header echoes the bTag.

Write sends header and telegram in one bulk-out transfer.  Read sends a
request header, then takes one bulk-in transfer and strips its header once
the bTag checks out.
*/
package usblink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
)

const (
	// reserved is the byte put in reserved header fields
	reserved = 0x00

	headerLen = 12
	alignment = 4

	msgOut   = 0x01 // DEV_DEP_MSG_OUT
	msgInReq = 0x02 // REQUEST_DEV_DEP_MSG_IN

	// Endpoint is the bulk endpoint number used in both directions
	Endpoint = 2

	// BufSize is the bulk-in buffer size requested per read
	BufSize = 512
)

var (
	// ErrHeader is returned when a bulk-in header is malformed or answers a
	// different request
	ErrHeader = errors.New("usblink: bad bulk-in header")

	// ErrShortWrite is returned when the out endpoint takes fewer bytes than given
	ErrShortWrite = errors.New("usblink: short write on bulk-out endpoint")
)

// tagGen is a concurrent-safe bTag generator.  bTag 0 is not allowed.
type tagGen struct {
	sync.Mutex
	value byte
}

func (g *tagGen) next() byte {
	g.Lock()
	defer g.Unlock()
	g.value++
	if g.value == 0 {
		g.value = 1
	}
	return g.value
}

// invTag computes the bitwise inversion of a bTag
func invTag(b byte) byte {
	return b ^ 0xff
}

// encOutHeader creates the header of a bulk-out data transfer.
//
//	0    MsgID, DEV_DEP_MSG_OUT
//	1    bTag
//	2    inverse bTag
//	3    reserved
//	4-7  transfer size, LSB first
//	8    EOM bit, always set
//	9-11 reserved
func encOutHeader(tag byte, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = msgOut
	out[1] = tag
	out[2] = invTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01
	return out
}

// encInHeader creates the header requesting a bulk-in transfer.  Bytes 8-11
// are reserved; telegrams carry their own terminator.
func encInHeader(tag byte, bufsize int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = msgInReq
	out[1] = tag
	out[2] = invTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	return out
}

// decInHeader checks the header of a bulk-in transfer against the request
// tag and returns the payload
func decInHeader(tag byte, buf []byte) ([]byte, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: only %d bytes, need %d", ErrHeader, len(buf), headerLen)
	}
	if buf[0] != msgInReq || buf[1] != tag || buf[2] != invTag(tag) {
		return nil, fmt.Errorf("%w: id %#02x tag %d/%#02x, want tag %d", ErrHeader, buf[0], buf[1], buf[2], tag)
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	if size > len(buf)-headerLen {
		return nil, fmt.Errorf("%w: transfer size %d exceeds %d received", ErrHeader, size, len(buf)-headerLen)
	}
	return buf[headerLen : headerLen+size], nil
}

// Link is an io.ReadWriteCloser over a bulk endpoint pair
type Link struct {
	tags    tagGen
	in      io.Reader
	out     io.Writer
	closer  func() error
	pending []byte
}

// NewLink wraps an endpoint pair.  closer may be nil.
func NewLink(in io.Reader, out io.Writer, closer func() error) *Link {
	return &Link{in: in, out: out, closer: closer}
}

// ParseID parses "VID:PID" in hex, e.g. "0483:5740"
func ParseID(s string) (vid, pid gousb.ID, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("usblink: %q is not VID:PID", s)
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usblink: vendor ID: %w", err)
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usblink: product ID: %w", err)
	}
	return gousb.ID(v), gousb.ID(p), nil
}

// Open opens the first device matching "VID:PID" and claims its default
// interface
func Open(id string) (*Link, error) {
	vid, pid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usblink: no device %s", id)
	}
	if err = dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	closer := func() error {
		done()
		err := dev.Close()
		ctx.Close()
		return err
	}
	in, err := iface.InEndpoint(Endpoint)
	if err != nil {
		closer()
		return nil, err
	}
	out, err := iface.OutEndpoint(Endpoint)
	if err != nil {
		closer()
		return nil, err
	}
	return NewLink(in, out, closer), nil
}

// Write sends b as one bulk-out transfer
func (l *Link) Write(b []byte) (int, error) {
	hdr := encOutHeader(l.tags.next(), len(b))
	buf := append(hdr[:], b...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	n, err := l.out.Write(buf)
	if err != nil {
		return 0, err
	}
	if n < len(buf) {
		return 0, ErrShortWrite
	}
	return len(b), nil
}

// Read returns payload bytes, requesting a new bulk-in transfer once the
// previous one is consumed
func (l *Link) Read(p []byte) (int, error) {
	for len(l.pending) == 0 {
		tag := l.tags.next()
		hdr := encInHeader(tag, BufSize)
		n, err := l.out.Write(hdr[:])
		if err != nil {
			return 0, err
		}
		if n < headerLen {
			return 0, ErrShortWrite
		}
		buf := make([]byte, headerLen+BufSize)
		n, err = l.in.Read(buf)
		if err != nil {
			return 0, err
		}
		l.pending, err = decInHeader(tag, buf[:n])
		if err != nil {
			return 0, err
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

// Close releases the interface and device
func (l *Link) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}
