/*Package telegram frames register accesses for a serial or TCP link to a
debug monitor running on the target.

A telegram is laid out as

	[SOT] [DEST] [SRC] [TYPE] [ADDR x4] [DATA x0..4] [CRC x2] [EOT]

SOT is 0x0D and EOT is 0x0A.  ADDR is big endian, DATA is a little endian
register value, and the CRC is CRC-16/XMODEM over DEST through DATA, big
endian.  Any 0x0A, 0x0D or 0x5E between SOT and EOT is replaced by 0x5E
followed by the byte plus 0x40, so SOT and EOT never appear in the body.

Requests are Read, Write, Write SET, Write CLR and Write TGL.  A Read is
answered by a Datagram carrying the register value; the writes by an Ack.
The monitor answers Nack to requests it will not perform, CRC Error to
telegrams that failed the check, and Busy when it cannot serve the request
yet.
*/
package telegram

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

const (
	// sot is the start of telegram byte
	sot = 0x0D

	// eot is the end of telegram byte
	eot = 0x0A

	// escape is the first byte of an escaped special character
	escape = 0x5E

	// escapeShift is added to a special character after escape.
	// special characters max out at 0x5E, so we will never overflow
	escapeShift = 0x40

	// MinSource is the lowest source address handed out by NextSource
	MinSource = 0xA1

	// MaxData is the largest data field a telegram carries
	MaxData = 4

	// headerLen is dest, src, type, and the address
	headerLen = 3 + 4

	// MaxFrame bounds an escaped frame, every body byte escaped
	MaxFrame = 2 + 2*(headerLen+MaxData+2)
)

var (
	// ErrNoStart is returned when a frame holds no SOT
	ErrNoStart = errors.New("telegram: start byte 0x0D not found")

	// ErrNoEnd is returned when a frame holds no EOT after SOT
	ErrNoEnd = errors.New("telegram: end byte 0x0A not found")

	// ErrShort is returned for a body too short to hold a header and CRC
	ErrShort = errors.New("telegram: truncated telegram")

	// ErrCRC is returned when the received and computed CRCs differ, or when
	// the peer answers CRC Error
	ErrCRC = errors.New("telegram: CRC mismatch, data lost in transmission")

	// ErrNack is returned when the peer answers Nack
	ErrNack = errors.New("telegram: request refused (Nack)")

	// ErrBusy is returned when the peer answers Busy
	ErrBusy = errors.New("telegram: peer busy")

	// ErrTooLong is returned when encoding more than MaxData data bytes
	ErrTooLong = errors.New("telegram: data longer than 4 bytes")

	crcTable = crc.NewTable(crc.XMODEM)

	// dataOrder is the byte order of register values
	dataOrder = binary.LittleEndian

	// currentSource holds the next source address and can only be accessed
	// by a single goroutine at once
	currentSource = make(chan byte, 1)
)

func init() {
	currentSource <- MinSource
}

// Type is a telegram type
type Type byte

// telegram types
const (
	Nack Type = iota
	CRCError
	Busy
	Ack
	Read
	Write
	WriteSet
	WriteClr
	Datagram
	WriteTgl
)

var typeNames = map[Type]string{
	Nack:     "Nack",
	CRCError: "CRC Error",
	Busy:     "Busy",
	Ack:      "Ack",
	Read:     "Read",
	Write:    "Write",
	WriteSet: "Write SET",
	WriteClr: "Write CLR",
	Datagram: "Datagram",
	WriteTgl: "Write TGL",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", byte(t))
}

// IsRequest is true for the types a monitor executes
func (t Type) IsRequest() bool {
	switch t {
	case Read, Write, WriteSet, WriteClr, WriteTgl:
		return true
	}
	return false
}

// Message is a decoded telegram
type Message struct {
	Dest, Src byte
	Type      Type
	Addr      uint32
	Data      []byte
}

// Value interprets Data as a register value
func (m Message) Value() (uint32, error) {
	if len(m.Data) != 4 {
		return 0, fmt.Errorf("telegram: %s carries %d data bytes, want 4", m.Type, len(m.Data))
	}
	return dataOrder.Uint32(m.Data), nil
}

// Err maps a reply type to an error; nil for Ack and Datagram
func (m Message) Err() error {
	switch m.Type {
	case Ack, Datagram:
		return nil
	case Nack:
		return ErrNack
	case CRCError:
		return ErrCRC
	case Busy:
		return ErrBusy
	}
	return fmt.Errorf("telegram: unexpected reply type %s", m.Type)
}

// Request builds a request telegram.  value is ignored for Read.
func Request(typ Type, dest, src byte, addr, value uint32) Message {
	m := Message{Dest: dest, Src: src, Type: typ, Addr: addr}
	if typ != Read {
		m.Data = ValueBytes(value)
	}
	return m
}

// Reply builds the answer to req, addressed back to its source
func Reply(req Message, typ Type, data []byte) Message {
	return Message{Dest: req.Src, Src: req.Dest, Type: typ, Addr: req.Addr, Data: data}
}

// ValueBytes encodes a register value as telegram data
func ValueBytes(v uint32) []byte {
	b := make([]byte, 4)
	dataOrder.PutUint32(b, v)
	return b
}

// NextSource returns a source address, cycling from MinSource to 0xFF
func NextSource() byte {
	addr := <-currentSource
	if addr < 0xFF {
		currentSource <- addr + 1
	} else {
		currentSource <- MinSource
	}
	return addr
}

func escapeSpecial(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	for _, b := range data {
		if b == sot || b == eot || b == escape {
			out = append(out, escape, b+escapeShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescapeSpecial(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == escape {
			subNext = true
			continue
		}
		if subNext {
			b -= escapeShift
		}
		out = append(out, b)
		subNext = false
	}
	return out
}

func checksum(buf []byte) []byte {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, crcTable.CRC16(c))
	return out
}

// Encode produces a telegram from m.
//  0. assemble the body from the header and data
//  1. compute the CRC over the body and append it
//  2. escape special characters in body and CRC
//  3. wrap in SOT and EOT
func Encode(m Message) ([]byte, error) {
	if len(m.Data) > MaxData {
		return nil, ErrTooLong
	}
	body := make([]byte, headerLen, headerLen+len(m.Data)+2)
	body[0], body[1], body[2] = m.Dest, m.Src, byte(m.Type)
	binary.BigEndian.PutUint32(body[3:], m.Addr)
	body = append(body, m.Data...)
	body = append(body, checksum(body)...)

	out := append([]byte{sot}, escapeSpecial(body)...)
	return append(out, eot), nil
}

// Decode renders a frame into a Message.  Bytes before SOT and after EOT
// are dropped.  On ErrCRC the Message holds the unverified fields, so a
// receiver can still address its CRC Error reply.
func Decode(frame []byte) (Message, error) {
	iStart := bytes.IndexByte(frame, sot)
	if iStart < 0 {
		return Message{}, ErrNoStart
	}
	iEnd := bytes.IndexByte(frame[iStart:], eot)
	if iEnd < 0 {
		return Message{}, ErrNoEnd
	}
	body := unescapeSpecial(frame[iStart+1 : iStart+iEnd])
	if len(body) < headerLen+2 {
		return Message{}, ErrShort
	}
	if len(body) > headerLen+MaxData+2 {
		return Message{}, ErrTooLong
	}

	fidx := len(body) - 2
	crcOK := bytes.Equal(body[fidx:], checksum(body[:fidx]))
	body = body[:fidx]
	m := Message{
		Dest: body[0],
		Src:  body[1],
		Type: Type(body[2]),
		Addr: binary.BigEndian.Uint32(body[3:7]),
	}
	if len(body) > headerLen {
		m.Data = append([]byte(nil), body[headerLen:]...)
	}
	if !crcOK {
		return m, ErrCRC
	}
	return m, nil
}

// ReadFrame reads one raw frame, SOT through EOT, discarding any line noise
// before SOT.  Frames longer than MaxFrame are rejected with ErrTooLong
// after being consumed.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == sot {
			break
		}
	}
	frame := []byte{sot}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if b == eot {
			break
		}
	}
	if len(frame) > MaxFrame {
		return nil, ErrTooLong
	}
	return frame, nil
}
