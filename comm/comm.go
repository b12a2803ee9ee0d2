/*Package comm provides a register bus over a serial, TCP, or USB link to a
debug monitor running on the target.

Remote implements reg.Bus and reg.BitSetter, so a dma.Stream can drive a
board on the bench exactly as it drives memory-mapped registers on the
target itself:

	r := comm.NewRemote("/dev/ttyACM0", comm.Serial, 0x10)
	r.Baud = 115200
	if err := r.Open(); err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	s, err := dma.New(r, id, cfg)
	...
	s.Enable()
	if err := r.Err(); err != nil {
		log.Fatal(err)
	}

reg.Bus has no error returns, so Remote keeps the first failed exchange and
reports it from Err, in the manner of bufio.Scanner.  Once an error is held
every access is a no-op returning 0 until ClearErr is called.  Exchange
returns errors directly for callers that want them per access.

The link is concurrent-safe; exchanges are serialized and optionally paced.
*/
package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/h7dma/telegram"
	"github.com/nasa-jpl/h7dma/usblink"
	"github.com/nasa-jpl/h7dma/util"
)

// transports
const (
	Serial = "serial"
	TCP    = "tcp"
	USB    = "usb"
)

var (
	// ErrNotConnected is generated when the link is used before Open
	ErrNotConnected = errors.New("comm: not connected to remote")

	// ErrUnknownTransport is generated by Open for a transport it cannot dial
	ErrUnknownTransport = errors.New("comm: unknown transport")

	// ErrMismatch is generated when a reply does not answer the request sent
	ErrMismatch = errors.New("comm: reply does not match request")

	// DefaultTimeout bounds one exchange and one connection attempt
	DefaultTimeout = 3 * time.Second
)

// Dialer opens a connection to the monitor
type Dialer func() (io.ReadWriteCloser, error)

// deadliner is implemented by net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

// Remote is a link to a monitor.  Addr is a serial device, a host:port, or a
// USB VID:PID depending on Transport.  Dial, when set, replaces Transport.
type Remote struct {
	Addr      string
	Transport string
	Baud      int
	Monitor   byte
	Timeout   time.Duration
	Dial      Dialer

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	rd      *bufio.Reader
	src     byte
	limiter *rate.Limiter
	err     error
}

// NewRemote creates a new Remote addressing the monitor at address monitor
func NewRemote(addr, transport string, monitor byte) *Remote {
	return &Remote{
		Addr:      addr,
		Transport: transport,
		Baud:      115200,
		Monitor:   monitor,
		Timeout:   DefaultTimeout,
		src:       telegram.NextSource(),
	}
}

// SetRate limits the link to perSecond exchanges, 0 for unlimited
func (r *Remote) SetRate(perSecond float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perSecond <= 0 {
		r.limiter = nil
		return
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Open the connection.  Refused connections and missing devices fail
// immediately; anything else is retried with an exponential backoff until
// Timeout, the monitor may still be booting.
func (r *Remote) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open()
}

func (r *Remote) open() error {
	if r.conn != nil {
		return nil
	}
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := r.dial()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if errors.Is(err, ErrUnknownTransport) || strings.Contains(errS, "refused") || strings.Contains(errS, "no such file") {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      r.timeout(),
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("comm: connecting to %s: %w", r.Addr, err)
	}
	r.conn = conn
	r.rd = bufio.NewReader(conn)
	return nil
}

func (r *Remote) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func (r *Remote) dial() (io.ReadWriteCloser, error) {
	if r.Dial != nil {
		return r.Dial()
	}
	switch r.Transport {
	case Serial:
		return serial.OpenPort(&serial.Config{Name: r.Addr, Baud: r.Baud, ReadTimeout: r.timeout()})
	case TCP:
		return util.TCPSetup(r.Addr, r.timeout())
	case USB:
		return usblink.Open(r.Addr)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTransport, r.Transport)
}

// Close the connection.  The next exchange reconnects.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drop()
}

func (r *Remote) drop() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn, r.rd = nil, nil
	return err
}

// Err returns the first error held since the last ClearErr
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ClearErr forgets the held error and re-enables access
func (r *Remote) ClearErr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = nil
}

// Exchange sends one request and returns the register value of the reply:
// the value read for Read, 0 for the writes.  Busy replies are retried
// with backoff until ctx is done or Timeout elapses.
func (r *Remote) Exchange(ctx context.Context, typ telegram.Type, addr, value uint32) (uint32, error) {
	if !typ.IsRequest() {
		return 0, fmt.Errorf("comm: %s is not a request", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out uint32
	op := func() error {
		v, err := r.exchange(ctx, typ, addr, value)
		if err != nil && !errors.Is(err, telegram.ErrBusy) {
			return backoff.Permanent(err)
		}
		out = v
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         250 * time.Millisecond,
		MaxElapsedTime:      r.timeout(),
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	return out, err
}

// exchange runs one telegram round trip with r.mu held
func (r *Remote) exchange(ctx context.Context, typ telegram.Type, addr, value uint32) (uint32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	if r.conn == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	req := telegram.Request(typ, r.Monitor, r.src, addr, value)
	frame, err := telegram.Encode(req)
	if err != nil {
		return 0, err
	}
	if d, ok := r.conn.(deadliner); ok {
		d.SetDeadline(time.Now().Add(r.timeout()))
	}
	if _, err = r.conn.Write(frame); err != nil {
		r.lost(err)
		return 0, err
	}
	raw, err := telegram.ReadFrame(r.rd)
	if err != nil {
		r.lost(err)
		return 0, err
	}
	reply, err := telegram.Decode(raw)
	if err != nil {
		return 0, err
	}
	if reply.Dest != r.src || reply.Addr != addr {
		return 0, fmt.Errorf("%w: %s for %#08x from %#02x, sent %s for %#08x", ErrMismatch, reply.Type, reply.Addr, reply.Src, typ, addr)
	}
	if err = reply.Err(); err != nil {
		return 0, err
	}
	if typ == telegram.Read {
		if reply.Type != telegram.Datagram {
			return 0, fmt.Errorf("%w: %s answering Read", ErrMismatch, reply.Type)
		}
		return reply.Value()
	}
	if reply.Type != telegram.Ack {
		return 0, fmt.Errorf("%w: %s answering %s", ErrMismatch, reply.Type, typ)
	}
	return 0, nil
}

// lost drops a connection that failed mid-exchange so the next one redials
func (r *Remote) lost(err error) {
	log.Printf("comm: link to %s lost (%v), will reconnect", r.Addr, err)
	r.drop()
}

// access runs an exchange for the infallible reg.Bus methods
func (r *Remote) access(typ telegram.Type, addr, value uint32) uint32 {
	if r.Err() != nil {
		return 0
	}
	v, err := r.Exchange(context.Background(), typ, addr, value)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = fmt.Errorf("comm: %s %#08x: %w", typ, addr, err)
		}
		r.mu.Unlock()
	}
	return v
}

// Load implements reg.Bus
func (r *Remote) Load(addr uint32) uint32 {
	return r.access(telegram.Read, addr, 0)
}

// Store implements reg.Bus
func (r *Remote) Store(addr uint32, value uint32) {
	r.access(telegram.Write, addr, value)
}

// SetBits implements reg.BitSetter with a single Write SET telegram
func (r *Remote) SetBits(addr uint32, mask uint32) {
	r.access(telegram.WriteSet, addr, mask)
}

// ClearBits implements reg.BitSetter with a single Write CLR telegram
func (r *Remote) ClearBits(addr uint32, mask uint32) {
	r.access(telegram.WriteClr, addr, mask)
}

// ToggleBits flips the bits of mask with a single Write TGL telegram
func (r *Remote) ToggleBits(addr uint32, mask uint32) {
	r.access(telegram.WriteTgl, addr, mask)
}

// Pipe returns a Dialer handing out one end of an in-memory connection
// whose other end is passed to serve, for tests and simulated targets
func Pipe(serve func(net.Conn)) Dialer {
	return func() (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		go serve(b)
		return a, nil
	}
}
