/*Package monitor serves register access telegrams against a reg.Bus.

It is the far end of comm.Remote.  On a target the bus would be reg.MMIO;
dmasrv runs it over a regsim.Bus so the whole stack can be exercised with no
hardware attached.
*/
package monitor

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"

	"github.com/nasa-jpl/h7dma/reg"
	"github.com/nasa-jpl/h7dma/telegram"
)

// Monitor answers telegrams addressed to Addr
type Monitor struct {
	Addr byte
	Bus  reg.Bus

	// Allow, when set, is asked before every access; refused accesses are
	// answered Nack
	Allow func(addr uint32) bool

	// Busy, when set and returning true, makes the monitor answer Busy
	Busy func() bool
}

// Handle executes one request and returns the reply.  The bool is false
// for telegrams addressed to another node, which get no reply.
func (m *Monitor) Handle(req telegram.Message) (telegram.Message, bool) {
	if req.Dest != m.Addr {
		return telegram.Message{}, false
	}
	if !req.Type.IsRequest() {
		log.Printf("monitor: rejected %s from %#02x, not a request", req.Type, req.Src)
		return telegram.Reply(req, telegram.Nack, nil), true
	}
	if m.Allow != nil && !m.Allow(req.Addr) {
		log.Printf("monitor: rejected %s %#08x from %#02x, address not allowed", req.Type, req.Addr, req.Src)
		return telegram.Reply(req, telegram.Nack, nil), true
	}
	if m.Busy != nil && m.Busy() {
		return telegram.Reply(req, telegram.Busy, nil), true
	}
	if req.Type == telegram.Read {
		return telegram.Reply(req, telegram.Datagram, telegram.ValueBytes(m.Bus.Load(req.Addr))), true
	}

	v, err := req.Value()
	if err != nil {
		log.Printf("monitor: rejected %s %#08x from %#02x: %v", req.Type, req.Addr, req.Src, err)
		return telegram.Reply(req, telegram.Nack, nil), true
	}
	r := reg.At(m.Bus, req.Addr)
	switch req.Type {
	case telegram.Write:
		r.Write(v)
	case telegram.WriteSet:
		r.Set(v)
	case telegram.WriteClr:
		r.Clear(v)
	case telegram.WriteTgl:
		r.Toggle(v)
	}
	return telegram.Reply(req, telegram.Ack, nil), true
}

// Serve answers telegrams read from rw until it fails.  A clean EOF or a
// closed connection returns nil.
func (m *Monitor) Serve(rw io.ReadWriter) error {
	rd := bufio.NewReader(rw)
	for {
		frame, err := telegram.ReadFrame(rd)
		if err != nil {
			if errors.Is(err, telegram.ErrTooLong) {
				log.Printf("monitor: dropped oversized frame")
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		req, err := telegram.Decode(frame)
		var reply telegram.Message
		switch {
		case errors.Is(err, telegram.ErrCRC):
			log.Printf("monitor: CRC error in telegram from %#02x", req.Src)
			if req.Dest != m.Addr {
				continue
			}
			reply = telegram.Reply(req, telegram.CRCError, nil)
		case err != nil:
			log.Printf("monitor: dropped telegram: %v", err)
			continue
		default:
			var ok bool
			if reply, ok = m.Handle(req); !ok {
				continue
			}
		}
		out, err := telegram.Encode(reply)
		if err != nil {
			return err
		}
		if _, err = rw.Write(out); err != nil {
			return err
		}
	}
}

// ListenAndServe accepts TCP connections on addr and serves each in its own
// goroutine.  Accesses from different connections interleave at telegram
// granularity.
func (m *Monitor) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.ServeListener(ln)
}

// ServeListener is ListenAndServe on an existing listener.  It returns nil
// once ln is closed.
func (m *Monitor) ServeListener(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			if err := m.Serve(conn); err != nil {
				log.Printf("monitor: connection from %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}
